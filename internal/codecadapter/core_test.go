package codecadapter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCore(be Backend, src Source, q Quirks, prog Programmer) *Core {
	return New(be, src, q, prog, nil)
}

func TestState_Intermediate(t *testing.T) {
	intermediate := []State{StateLoadedToIdle, StateIdleToExecuting, StateExecutingToIdle, StateIdleToLoaded, StateReconfiguring}
	settled := []State{StateLoaded, StateExecuting, StatePaused, StateDead, StateError}

	for _, s := range intermediate {
		assert.True(t, s.Intermediate(), "expected %s to be intermediate", s)
	}
	for _, s := range settled {
		assert.False(t, s.Intermediate(), "expected %s to not be intermediate", s)
	}
}

func TestCore_StartReachesExecuting(t *testing.T) {
	be := newFakeBackend(1, 1, 4096)
	src := &fakeSource{frames: []*fakeSourceBuffer{{data: []byte("frame-one"), ts: 0}}}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	ctx := context.Background()
	require.NoError(t, c.Configure(ctx, SourceFormat{MIME: MIMEVideoAVC}))
	require.NoError(t, c.Start(ctx, StartOptions{}))

	assert.Equal(t, StateExecuting, c.State())
	assert.Equal(t, 1, src.startCalls)
}

func TestCore_ConfigureOnlyValidFromLoaded(t *testing.T) {
	be := newFakeBackend(1, 1, 4096)
	src := &fakeSource{}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	ctx := context.Background()
	require.NoError(t, c.Configure(ctx, SourceFormat{MIME: MIMEVideoAVC}))
	require.NoError(t, c.Start(ctx, StartOptions{}))

	err := c.Configure(ctx, SourceFormat{MIME: MIMEVideoAVC})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCore_StartThenStopRoundTrip(t *testing.T) {
	be := newFakeBackend(1, 1, 4096)
	src := &fakeSource{frames: []*fakeSourceBuffer{{data: []byte("f1"), ts: 1000}}}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	ctx := context.Background()
	require.NoError(t, c.Configure(ctx, SourceFormat{MIME: MIMEVideoAVC}))
	require.NoError(t, c.Start(ctx, StartOptions{}))
	require.Equal(t, StateExecuting, c.State())

	// Drain until end of stream: with one frame and one input buffer, the
	// second drain attempt (triggered by the buffer coming back) observes
	// SourceEOS and the adapter reports it back through Read.
	deadline := time.Now().Add(2 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		_, err := c.Read(ctx, ReadOptions{})
		if err != nil {
			lastErr = err
			break
		}
	}
	assert.ErrorIs(t, lastErr, ErrEndOfStream)

	require.NoError(t, c.Stop(ctx))
	assert.Equal(t, StateLoaded, c.State())
	assert.Equal(t, 1, src.stopCalls)
}

func TestCore_CloseFreesBackendNodeAndRejectsFurtherOps(t *testing.T) {
	be := newFakeBackend(1, 1, 4096)
	src := &fakeSource{frames: []*fakeSourceBuffer{{data: []byte("f1"), ts: 1000}}}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	ctx := context.Background()
	require.NoError(t, c.Configure(ctx, SourceFormat{MIME: MIMEVideoAVC}))
	require.NoError(t, c.Start(ctx, StartOptions{}))

	require.NoError(t, c.Close(ctx))
	assert.Equal(t, StateDead, c.State())
	assert.True(t, be.freeNodeCalled)

	_, err := c.Read(ctx, ReadOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Start(ctx, StartOptions{}), ErrClosed)

	// Close is idempotent.
	require.NoError(t, c.Close(ctx))
}

func TestCore_PauseResume(t *testing.T) {
	be := newFakeBackend(1, 1, 4096)
	src := &fakeSource{}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	ctx := context.Background()
	require.NoError(t, c.Configure(ctx, SourceFormat{MIME: MIMEAudioAAC}))
	require.NoError(t, c.Start(ctx, StartOptions{}))

	require.NoError(t, c.Pause(ctx))
	assert.Equal(t, StatePaused, c.State())

	require.NoError(t, c.Start(ctx, StartOptions{}))
	assert.Equal(t, StateExecuting, c.State())
}

func TestCore_ReadBeforeStartIsNotRunning(t *testing.T) {
	be := newFakeBackend(1, 1, 4096)
	src := &fakeSource{}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	_, err := c.Read(context.Background(), ReadOptions{})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCore_BufferOwnershipNeverDouble(t *testing.T) {
	// Invariant: a buffer record is either owned by the component or by
	// us, never simultaneously accounted for as both. allocatePort must hand back fresh records that are
	// all "ours" until explicitly submitted.
	be := newFakeBackend(2, 2, 4096)
	src := &fakeSource{}
	c := newTestCore(be, src, Quirks{}, &fakeProgrammer{})

	require.NoError(t, c.allocatePort(context.Background(), PortInput))
	for _, b := range c.input.Buffers {
		assert.False(t, b.OwnedByComponent)
	}
	assert.Equal(t, len(c.input.Buffers), c.input.countWeOwn())
}
