package codecadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainInputBuffer_CSDInjectedBeforePayload(t *testing.T) {
	// Invariant: the CSD cursor must be exhausted before any payload
	// buffer is submitted.
	be := &recordingBackend{}
	src := &fakeSource{frames: []*fakeSourceBuffer{{data: []byte("payload"), ts: 0}}}
	c := New(be, src, Quirks{}, &fakeProgrammer{}, nil)

	c.csd.append([]byte("sps-bytes"))
	c.csd.append([]byte("pps-bytes"))
	assert.False(t, c.csd.exhausted())

	info := &BufferRecord{Handle: 1, Data: make([]byte, 64)}

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	require.Len(t, be.emptyCalls, 1)
	assert.Equal(t, FlagEndOfFrame|FlagCodecConfig, be.emptyCalls[0].flags)
	assert.Equal(t, []byte("sps-bytes"), info.Data[:be.emptyCalls[0].length])
	assert.False(t, c.csd.exhausted())

	info.OwnedByComponent = false
	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	require.Len(t, be.emptyCalls, 2)
	assert.Equal(t, []byte("pps-bytes"), info.Data[:be.emptyCalls[1].length])
	assert.True(t, c.csd.exhausted())

	// Third call drains actual payload now that CSD is exhausted.
	info.OwnedByComponent = false
	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	require.Len(t, be.emptyCalls, 3)
	assert.False(t, be.emptyCalls[2].flags.Has(FlagCodecConfig))
	assert.Equal(t, []byte("payload"), info.Data[:be.emptyCalls[2].length])
}

func TestDrainInputBuffer_OversizeReturnsErrorAndEntersErrorState(t *testing.T) {
	be := &recordingBackend{}
	big := &fakeSourceBuffer{data: make([]byte, 16), ts: 0}
	src := &fakeSource{frames: []*fakeSourceBuffer{big}}
	c := New(be, src, Quirks{}, &fakeProgrammer{}, nil)
	c.state = StateExecuting

	info := &BufferRecord{Handle: 1, Data: make([]byte, 4)} // too small for 16 bytes

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.drainInputBuffer(context.Background(), info)
	assert.ErrorIs(t, err, ErrOversizeBuffer)
	assert.Equal(t, StateError, c.state)
	assert.True(t, big.released)
	assert.Empty(t, be.emptyCalls)
}

func TestDrainInputBuffer_CoalescesConsecutiveFramesWithinWindow(t *testing.T) {
	be := &recordingBackend{}
	frames := []*fakeSourceBuffer{
		{data: []byte("AA"), ts: 0},
		{data: []byte("BB"), ts: 100_000},   // 100ms after first
		{data: []byte("CC"), ts: 600_000},   // 600ms after first: over the 500ms window
	}
	src := &fakeSource{frames: frames}
	q := Quirks{CoalesceInputFrames: true, CoalesceWindow: 500_000_000} // 500ms in ns (time.Duration)
	c := New(be, src, q, &fakeProgrammer{}, nil)
	c.state = StateExecuting

	info := &BufferRecord{Handle: 1, Data: make([]byte, 64)}

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	require.Len(t, be.emptyCalls, 1)
	assert.Equal(t, "AABBCC", string(info.Data[:be.emptyCalls[0].length]))
	assert.Equal(t, int64(0), be.emptyCalls[0].ts)
	for _, f := range frames {
		assert.True(t, f.released)
	}
}

func TestDrainInputBuffer_SkipsWhilePaused(t *testing.T) {
	be := &recordingBackend{}
	src := &fakeSource{frames: []*fakeSourceBuffer{{data: []byte("x"), ts: 0}}}
	c := New(be, src, Quirks{}, &fakeProgrammer{}, nil)
	c.paused = true

	info := &BufferRecord{Handle: 1, Data: make([]byte, 4)}

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	assert.Empty(t, be.emptyCalls)
}

func TestDrainInputBuffer_AvoidMemcopyAliasesSourceBuffer(t *testing.T) {
	be := &recordingBackend{}
	frame := &fakeSourceBuffer{data: []byte("recording-frame"), ts: 42}
	src := &fakeSource{frames: []*fakeSourceBuffer{frame}}
	q := Quirks{AvoidMemcopyInputFrames: true}
	c := New(be, src, q, &fakeProgrammer{}, nil)
	c.state = StateExecuting

	staging := make([]byte, 64)
	info := &BufferRecord{Handle: 1, Data: staging}

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	require.Len(t, be.emptyCalls, 1)
	assert.Equal(t, len(frame.data), be.emptyCalls[0].length)
	assert.Same(t, &frame.data[0], &info.Data[0])
	assert.False(t, frame.released, "source buffer must stay live until the component returns it")
	assert.True(t, info.OwnedByComponent)
	assert.Equal(t, SourceBuffer(frame), info.sourceBuffer)
}

func TestDrainInputBuffer_AvoidMemcopyEOSSubmitsEOSBuffer(t *testing.T) {
	be := &recordingBackend{}
	src := &fakeSource{} // no frames: immediate SourceEOS
	q := Quirks{AvoidMemcopyInputFrames: true}
	c := New(be, src, q, &fakeProgrammer{}, nil)
	c.state = StateExecuting

	info := &BufferRecord{Handle: 1, Data: make([]byte, 64)}

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NoError(t, c.drainInputBuffer(context.Background(), info))
	require.Len(t, be.emptyCalls, 1)
	assert.Equal(t, FlagEndOfFrame|FlagEOS, be.emptyCalls[0].flags)
	assert.True(t, c.signalledEOS)
}
