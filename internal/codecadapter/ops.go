package codecadapter

import (
	"context"
	"fmt"
	"log/slog"
)

// errOrUnknown returns the recorded final status, or ErrUnknown if none
// was recorded: once a backend reports an error, every later operation
// must surface some error rather than appear to succeed. Must be called
// with mu held.
func (c *Core) errOrUnknown() error {
	if c.finalStatus != nil {
		return c.finalStatus
	}
	return ErrUnknown
}

// Configure runs the Configuration Programmer against meta: format
// parameters are pushed to the backend and any resulting codec-specific
// data blobs (SPS/PPS, AudioSpecificConfig,...) are enqueued ahead of
// payload. It must be called from Loaded,
// before Start.
func (c *Core) Configure(ctx context.Context, meta SourceFormat) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitWhileIntermediate()

	if c.state == StateDead {
		return fmt.Errorf("configure: %w", ErrClosed)
	}
	if c.state != StateLoaded {
		return fmt.Errorf("configure: %w (state=%s)", ErrNotRunning, c.state)
	}
	if c.prog == nil {
		return fmt.Errorf("configure: %w: no programmer registered", ErrUnsupportedProfile)
	}

	blobs, err := c.prog.Program(ctx, c.backend, meta)
	if err != nil {
		return err
	}
	c.format = meta
	for _, b := range blobs {
		c.csd.append(b)
	}
	return nil
}

// Start runs the codec adapter up to Executing. From
// Paused it resumes without reinitialization; from Loaded it runs the
// full init() sequence.
func (c *Core) Start(ctx context.Context, opts StartOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitWhileIntermediate()

	if c.state == StatePaused {
		if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateExecuting)); err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		c.setState(StateIdleToExecuting)
		for c.state != StateExecuting && c.state != StateError {
			c.asyncCompletion.Wait()
		}
		if c.state == StateError {
			return c.errOrUnknown()
		}
		return nil
	}

	if c.state == StateDead {
		return fmt.Errorf("start: %w", ErrClosed)
	}
	if c.state != StateLoaded {
		return fmt.Errorf("start: %w (state=%s)", ErrNotRunning, c.state)
	}

	if c.quirks.WantsNALFragments {
		opts.WantsFragments = true
	}
	if err := c.source.Start(ctx, opts); err != nil {
		return fmt.Errorf("start upstream source: %w", err)
	}
	c.resetBookmarks()

	if err := c.init(ctx); err != nil {
		return err
	}

	for c.state != StateExecuting && c.state != StateError {
		c.asyncCompletion.Wait()
	}
	if c.state == StateError {
		if c.finalStatus != nil {
			return c.finalStatus
		}
		return ErrNoMemory
	}
	return nil
}

// init runs the Loaded->Idle transition and port allocation in the order
// the RequiresLoadedToIdleAfterAllocation quirk selects.
// Must be called with mu held.
func (c *Core) init(ctx context.Context) error {
	if !c.quirks.RequiresLoadedToIdleAfterAllocation {
		if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateIdle)); err != nil {
			c.setState(StateError)
			return fmt.Errorf("StateSet(Idle): %w", err)
		}
		c.setState(StateLoadedToIdle)
		if err := c.allocatePort(ctx, PortInput); err != nil {
			c.setState(StateError)
			return fmt.Errorf("%w: %v", ErrNoMemory, err)
		}
		if err := c.allocatePort(ctx, PortOutput); err != nil {
			c.setState(StateError)
			return fmt.Errorf("%w: %v", ErrNoMemory, err)
		}
		return nil
	}

	if err := c.allocatePort(ctx, PortInput); err != nil {
		c.setState(StateError)
		return fmt.Errorf("%w: %v", ErrNoMemory, err)
	}
	if err := c.allocatePort(ctx, PortOutput); err != nil {
		c.setState(StateError)
		return fmt.Errorf("%w: %v", ErrNoMemory, err)
	}
	if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateIdle)); err != nil {
		c.setState(StateError)
		return fmt.Errorf("StateSet(Idle): %w", err)
	}
	c.setState(StateLoadedToIdle)
	return nil
}

// Pause submits StateSet(Pause) and waits for it to complete.
func (c *Core) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitWhileIntermediate()

	if c.state == StateDead {
		return fmt.Errorf("pause: %w", ErrClosed)
	}
	if c.state != StateExecuting {
		return fmt.Errorf("pause: %w (state=%s)", ErrNotRunning, c.state)
	}
	if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStatePause)); err != nil {
		return fmt.Errorf("StateSet(Pause): %w", err)
	}
	c.setState(StateExecutingToIdle)
	for c.state != StatePaused && c.state != StateError {
		c.asyncCompletion.Wait()
	}
	if c.state == StateError {
		return c.errOrUnknown()
	}
	return nil
}

// Stop tears the adapter down to Loaded. From Loaded/Error it issues no
// backend commands; in every state it then releases any held leftover
// source buffer and stops the upstream source, and from Error it returns
// the recorded error.
func (c *Core) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitWhileIntermediate()

	switch c.state {
	case StateLoaded, StateError:
		// nothing to do
	case StatePaused, StateExecuting:
		if c.quirks.SendEOSOnInputEOS {
			c.sendExplicitInputEOS(ctx)
		}
		c.setState(StateExecutingToIdle)
		c.input.Status = PortShuttingDown
		c.output.Status = PortShuttingDown

		if c.quirks.RequiresFlushBeforeShutdown {
			if err := c.backend.SendCommand(ctx, CmdFlush, int(PortBoth)); err != nil {
				c.logger().Error("Flush(both) failed", slog.Any("error", err))
				c.setState(StateError)
			} else if c.quirks.RequiresFlushCompleteEmulation {
				c.handleFlushComplete(ctx, PortBoth)
			}
		} else {
			if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateIdle)); err != nil {
				c.logger().Error("StateSet(Idle) failed", slog.Any("error", err))
				c.setState(StateError)
			}
		}

		for c.state != StateLoaded && c.state != StateError {
			c.asyncCompletion.Wait()
		}
	}

	if c.leftover != nil {
		c.leftover.Release()
		c.leftover = nil
	}
	if err := c.source.Stop(ctx); err != nil {
		c.logger().Error("stop upstream source failed", slog.Any("error", err))
	}
	if c.state == StateError {
		return c.errOrUnknown()
	}
	return nil
}

// Close tears the adapter all the way down to Dead: it runs Stop (which
// issues no backend commands from Loaded or Error), then releases the
// backend node via FreeNode. After Close returns, every public operation
// fails with ErrClosed. Close is idempotent; calling it more than once is
// a no-op after the first call.
func (c *Core) Close(ctx context.Context) error {
	c.mu.Lock()
	alreadyDead := c.state == StateDead
	c.mu.Unlock()
	if alreadyDead {
		return nil
	}

	stopErr := c.Stop(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.FreeNode(ctx); err != nil {
		c.logger().Error("free node failed", slog.Any("error", err))
		c.setState(StateError)
		return fmt.Errorf("free node: %w", err)
	}
	c.setState(StateDead)
	return stopErr
}

// sendExplicitInputEOS locates an input buffer owned by us (waiting for
// one if none is immediately available) and submits it with FlagEOS, for
// encoders that require an explicit EOS message rather than relying on
// natural source drain. Must be called with mu
// held.
func (c *Core) sendExplicitInputEOS(ctx context.Context) {
	var b *BufferRecord
	for b == nil {
		for _, x := range c.input.Buffers {
			if !x.OwnedByComponent {
				b = x
				break
			}
		}
		if b == nil {
			if len(c.input.Buffers) == 0 {
				return
			}
			c.asyncCompletion.Wait()
		}
	}
	if err := c.backend.EmptyBuffer(ctx, b.Handle, 0, 0, FlagEndOfFrame|FlagEOS, 0); err != nil {
		c.logger().Error("explicit EOS submit failed", slog.Any("error", err))
		return
	}
	b.OwnedByComponent = true
	c.signalledEOS = true
}

// Read blocks until a deliverable is available, the stream ends, the
// output format changes, or the adapter errors.
func (c *Core) Read(ctx context.Context, opts ReadOptions) (*Deliverable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDead {
		return nil, fmt.Errorf("read: %w", ErrClosed)
	}
	if c.state != StateExecuting && c.state != StateReconfiguring {
		return nil, fmt.Errorf("read: %w (state=%s)", ErrNotRunning, c.state)
	}

	if opts.HasSeek {
		c.hasSeek = true
		c.seekTime = opts.SeekTime
		c.seekMode = opts.SeekMode
	}
	if opts.HasSkip {
		c.hasSkip = true
		c.skipTime = opts.SkipTime
	}

	if c.initialBufferSubmit {
		c.initialBufferSubmit = false
		c.drainInputBuffers(ctx)
		if c.state == StateExecuting {
			c.fillOutputBuffers(ctx)
		}
	}

	if opts.HasSeek {
		c.signalledEOS = false
		c.noMoreOutputData = false
		c.filled = c.filled[:0]
		c.input.Status = PortShuttingDown
		c.output.Status = PortShuttingDown

		if c.quirks.RequiresFlushCompleteEmulation {
			c.handleFlushComplete(ctx, PortBoth)
		} else if err := c.backend.SendCommand(ctx, CmdFlush, int(PortBoth)); err != nil {
			c.logger().Error("Flush(both) for seek failed", slog.Any("error", err))
			c.setState(StateError)
		}

		for c.hasSeek && c.state != StateError {
			c.asyncCompletion.Wait()
		}
	}

	for len(c.filled) == 0 && c.state != StateError && !c.noMoreOutputData && !c.outputFormatChanged {
		c.bufferFilled.Wait()
	}

	switch {
	case c.state == StateError:
		return nil, c.errOrUnknown()
	case c.outputFormatChanged:
		c.outputFormatChanged = false
		c.filled = c.filled[:0]
		return nil, ErrFormatChanged
	case len(c.filled) == 0:
		if c.finalStatus != nil {
			return nil, c.finalStatus
		}
		return nil, ErrEndOfStream
	default:
		idx := c.filled[0]
		c.filled = c.filled[1:]
		b := c.output.Buffers[idx]
		b.bound.retain()
		return b.bound, nil
	}
}

// SignalBufferReturned returns a previously delivered Deliverable to the
// adapter once the consumer is done with it. Calling it
// more than once per delivery is a caller error.
func (c *Core) SignalBufferReturned(ctx context.Context, d *Deliverable) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b *BufferRecord
	for _, x := range c.output.Buffers {
		if x.bound == d {
			b = x
			break
		}
	}
	if b == nil {
		return fmt.Errorf("signalBufferReturned: deliverable not bound to any output buffer")
	}
	if !d.release() {
		return nil
	}

	switch c.output.Status {
	case PortEnabled:
		if err := c.backend.FillBuffer(ctx, b.Handle); err != nil {
			return fmt.Errorf("fill buffer: %w", err)
		}
		b.OwnedByComponent = true
	case PortDisabling:
		c.freeOutputPortIfAllOurs(ctx)
	}
	return nil
}

// State returns the current lifecycle state. Intended for diagnostics;
// public operations must not be gated on a caller-observed State snapshot
// since it can change the instant the lock is released.
func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
