package codecadapter

import (
	"context"
	"fmt"
)

// encoderOutputBufferGrowth is the factor applied to an encoder's
// declared output buffer size when RequiresLargerEncoderOutputBuffer is
// set: some encoders under-report their worst-case output frame size
// (a high-motion GOP can exceed the steady-state estimate), so the
// allocation is padded rather than trusted literally.
const encoderOutputBufferGrowth = 2

// allocatePort queries the backend for the port's actual buffer count and
// size, then constructs that many buffer records using the allocation
// mode the quirks select for the port.
func (c *Core) allocatePort(ctx context.Context, port Port) error {
	def, err := c.backend.PortDefinition(ctx, port)
	if err != nil {
		return fmt.Errorf("port definition for %s: %w", port, err)
	}

	mode := c.quirks.InputAllocationMode
	if port == PortOutput {
		mode = c.quirks.OutputAllocationMode
		if c.quirks.RequiresLargerEncoderOutputBuffer {
			def.BufferSize *= encoderOutputBufferGrowth
		}
	}

	rec := c.port(port)
	rec.Buffers = make([]*BufferRecord, 0, def.BufferCountActual)

	for i := 0; i < def.BufferCountActual; i++ {
		b, err := c.allocateOneBuffer(ctx, port, mode, def.BufferSize)
		if err != nil {
			return fmt.Errorf("allocate buffer %d/%d on %s: %w", i, def.BufferCountActual, port, err)
		}
		if port == PortOutput && !c.quirks.DefersOutputAllocation {
			b.bound = &Deliverable{BufferID: uint64(b.Handle)}
		}
		rec.Buffers = append(rec.Buffers, b)
	}
	return nil
}

func (c *Core) allocateOneBuffer(ctx context.Context, port Port, mode AllocationMode, size int) (*BufferRecord, error) {
	switch mode {
	case AllocBackend:
		h, data, err := c.backend.AllocateBuffer(ctx, port, size)
		if err != nil {
			return nil, err
		}
		return &BufferRecord{Handle: h, Data: data, Capacity: size}, nil
	case AllocBackendWithBackup:
		backup := make([]byte, size)
		h, err := c.backend.AllocateBufferWithBackup(ctx, port, backup)
		if err != nil {
			return nil, err
		}
		return &BufferRecord{Handle: h, Data: backup, Capacity: size}, nil
	case AllocUseBuffer:
		mem := make([]byte, size)
		h, err := c.backend.UseBuffer(ctx, port, mem)
		if err != nil {
			return nil, err
		}
		return &BufferRecord{Handle: h, Data: mem, Capacity: size}, nil
	default:
		return nil, fmt.Errorf("unknown allocation mode %d", mode)
	}
}

// freePort walks buffers in reverse, frees every buffer owned by us, and
// drops its deliverable. When onlyOwnedByUs is true it leaves
// component-owned entries in place.
func (c *Core) freePort(ctx context.Context, port Port, onlyOwnedByUs bool) error {
	rec := c.port(port)
	if !onlyOwnedByUs && rec.countWeOwn() != len(rec.Buffers) {
		return fmt.Errorf("freePort(%s): not all buffers owned by us (%d/%d)", port, rec.countWeOwn(), len(rec.Buffers))
	}

	kept := rec.Buffers[:0]
	for i := len(rec.Buffers) - 1; i >= 0; i-- {
		b := rec.Buffers[i]
		if b.OwnedByComponent {
			kept = append([]*BufferRecord{b}, kept...)
			continue
		}
		if err := c.backend.FreeBuffer(ctx, port, b.Handle); err != nil {
			return fmt.Errorf("free buffer %v on %s: %w", b.Handle, port, err)
		}
		b.bound = nil
	}
	rec.Buffers = kept
	return nil
}

func (c *Core) port(p Port) *PortRecord {
	switch p {
	case PortInput:
		return &c.input
	case PortOutput:
		return &c.output
	default:
		panic(fmt.Sprintf("port(%s): not a concrete port", p))
	}
}

// forEachConcretePort runs fn for PortInput and PortOutput when p is
// PortBoth, or just the one port otherwise.
func forEachConcretePort(p Port, fn func(Port)) {
	if p == PortBoth {
		fn(PortInput)
		fn(PortOutput)
		return
	}
	fn(p)
}
