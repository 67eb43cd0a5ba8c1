package codecadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatePort_BuildsBufferRecordsFromPortDefinition(t *testing.T) {
	be := newFakeBackend(3, 2, 2048)
	c := New(be, &fakeSource{}, Quirks{}, &fakeProgrammer{}, nil)

	require.NoError(t, c.allocatePort(context.Background(), PortInput))
	assert.Len(t, c.input.Buffers, 3)
	for _, b := range c.input.Buffers {
		assert.Len(t, b.Data, 2048)
		assert.False(t, b.OwnedByComponent)
	}

	require.NoError(t, c.allocatePort(context.Background(), PortOutput))
	assert.Len(t, c.output.Buffers, 2)
	for _, b := range c.output.Buffers {
		// DefersOutputAllocation is off by default, so output buffers are
		// bound to a Deliverable eagerly at allocation time.
		assert.NotNil(t, b.bound)
	}
}

func TestAllocatePort_DefersOutputBindingUnderQuirk(t *testing.T) {
	be := newFakeBackend(1, 1, 1024)
	q := Quirks{DefersOutputAllocation: true}
	c := New(be, &fakeSource{}, q, &fakeProgrammer{}, nil)

	require.NoError(t, c.allocatePort(context.Background(), PortOutput))
	require.Len(t, c.output.Buffers, 1)
	assert.Nil(t, c.output.Buffers[0].bound)
}

func TestFreePort_RefusesWhileComponentOwnsABuffer(t *testing.T) {
	be := newFakeBackend(2, 0, 1024)
	c := New(be, &fakeSource{}, Quirks{}, &fakeProgrammer{}, nil)

	require.NoError(t, c.allocatePort(context.Background(), PortInput))
	c.input.Buffers[0].OwnedByComponent = true

	err := c.freePort(context.Background(), PortInput, false)
	assert.Error(t, err)
	assert.Len(t, c.input.Buffers, 2, "buffers must not be dropped on a failed freePort")
}

func TestFreePort_FreesEverythingOnceWeOwnItAll(t *testing.T) {
	be := newFakeBackend(2, 0, 1024)
	c := New(be, &fakeSource{}, Quirks{}, &fakeProgrammer{}, nil)

	require.NoError(t, c.allocatePort(context.Background(), PortInput))
	require.NoError(t, c.freePort(context.Background(), PortInput, false))
	assert.Empty(t, c.input.Buffers)
}

func TestAllocatePort_PadsOutputSizeUnderLargerEncoderOutputQuirk(t *testing.T) {
	be := newFakeBackend(1, 1, 1024)
	q := Quirks{RequiresLargerEncoderOutputBuffer: true}
	c := New(be, &fakeSource{}, q, &fakeProgrammer{}, nil)

	require.NoError(t, c.allocatePort(context.Background(), PortInput))
	assert.Len(t, c.input.Buffers[0].Data, 1024, "the quirk only pads the output port")

	require.NoError(t, c.allocatePort(context.Background(), PortOutput))
	assert.Len(t, c.output.Buffers[0].Data, 1024*encoderOutputBufferGrowth)
}

func TestForEachConcretePort_ExpandsPortBoth(t *testing.T) {
	var seen []Port
	forEachConcretePort(PortBoth, func(p Port) { seen = append(seen, p) })
	assert.Equal(t, []Port{PortInput, PortOutput}, seen)

	seen = nil
	forEachConcretePort(PortOutput, func(p Port) { seen = append(seen, p) })
	assert.Equal(t, []Port{PortOutput}, seen)
}
