package codecadapter

import (
	"context"
	"log/slog"
)

// onEvent is the single entry point for backend callbacks. It is the only method this package exposes
// that is meant to be called from a thread other than the caller of the
// public operation surface; it acquires the monitor lock itself.
func (c *Core) onEvent(ev BackendEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx := context.Background()

	switch ev.kind {
	case eventKindGeneric:
		c.handleGenericEvent(ctx, ev)
	case eventKindEmptyBufferDone:
		c.handleEmptyBufferDone(ctx, ev.EmptyHandle)
	case eventKindFillBufferDone:
		c.handleFillBufferDone(ctx, ev)
	}
}

func (c *Core) handleGenericEvent(ctx context.Context, ev BackendEvent) {
	switch ev.Code {
	case EventCmdComplete:
		switch ev.CmdKind {
		case CmdCompleteStateSet:
			c.handleStateSetComplete(ctx, ev.StateArg)
		case CmdCompletePortDisable:
			c.handlePortDisableComplete(ctx, ev.PortArg)
		case CmdCompletePortEnable:
			c.handlePortEnableComplete(ctx, ev.PortArg)
		case CmdCompleteFlush:
			c.handleFlushComplete(ctx, ev.PortArg)
		}
	case EventPortSettingsChanged:
		c.handlePortSettingsChanged(ctx, ev.PortArg)
	case EventError:
		c.logger().Error("backend reported error event", slog.Any("error", ev.ErrorValue))
		if ev.ErrorValue != nil {
			c.finalStatus = ev.ErrorValue
		} else {
			c.finalStatus = ErrBackend
		}
		c.setState(StateError)
		c.bufferFilled.Broadcast()
	}
}

func (c *Core) handleStateSetComplete(ctx context.Context, newState BackendState) {
	switch newState {
	case BackendStateIdle:
		switch c.state {
		case StateLoadedToIdle:
			if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateExecuting)); err != nil {
				c.logger().Error("StateSet(Executing) failed", slog.Any("error", err))
				c.setState(StateError)
				return
			}
			c.setState(StateIdleToExecuting)
		case StateExecutingToIdle:
			if c.input.countWeOwn() != len(c.input.Buffers) || c.output.countWeOwn() != len(c.output.Buffers) {
				c.logger().Error("Idle reached without owning all buffers")
				c.setState(StateError)
				return
			}
			if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateLoaded)); err != nil {
				c.logger().Error("StateSet(Loaded) failed", slog.Any("error", err))
				c.setState(StateError)
				return
			}
			if err := c.freePort(ctx, PortInput, false); err != nil {
				c.logger().Error("free input port failed", slog.Any("error", err))
			}
			if err := c.freePort(ctx, PortOutput, false); err != nil {
				c.logger().Error("free output port failed", slog.Any("error", err))
			}
			c.input.Status = PortEnabled
			c.output.Status = PortEnabled
			c.setState(StateIdleToLoaded)
		default:
			c.logger().Warn("unexpected Idle completion", slog.String("state", c.state.String()))
		}
	case BackendStateExecuting:
		if c.state != StateIdleToExecuting {
			c.logger().Warn("unexpected Executing completion", slog.String("state", c.state.String()))
			return
		}
		c.setState(StateExecuting)
		c.initialBufferSubmit = true
	case BackendStateLoaded:
		if c.state != StateIdleToLoaded {
			c.logger().Warn("unexpected Loaded completion", slog.String("state", c.state.String()))
			return
		}
		c.setState(StateLoaded)
	case BackendStatePause:
		if c.state != StateExecutingToIdle {
			c.logger().Warn("unexpected Pause completion", slog.String("state", c.state.String()))
			return
		}
		c.setState(StatePaused)
	case BackendStateInvalid:
		c.setState(StateError)
	}
}

func (c *Core) handlePortDisableComplete(ctx context.Context, port Port) {
	if c.state != StateExecuting && c.state != StateReconfiguring {
		c.logger().Warn("PortDisable complete in unexpected state", slog.String("state", c.state.String()))
		return
	}
	rec := c.port(port)
	if rec.Status != PortDisabling || len(rec.Buffers) != 0 {
		c.logger().Warn("PortDisable complete but port not ready", slog.String("port", port.String()),
			slog.String("status", rec.Status.String()), slog.Int("buffers", len(rec.Buffers)))
		return
	}
	rec.Status = PortDisabled

	if c.state == StateReconfiguring && port == PortOutput {
		if err := c.backend.SendCommand(ctx, CmdPortEnable, int(PortOutput)); err != nil {
			c.logger().Error("PortEnable(output) failed", slog.Any("error", err))
			c.setState(StateError)
			return
		}
		c.output.Status = PortEnabling
		if err := c.allocatePort(ctx, PortOutput); err != nil {
			c.logger().Error("re-allocate output port failed", slog.Any("error", err))
			c.setState(StateError)
		}
	}
}

func (c *Core) handlePortEnableComplete(ctx context.Context, port Port) {
	rec := c.port(port)
	if rec.Status != PortEnabling {
		c.logger().Warn("PortEnable complete but port not enabling", slog.String("port", port.String()))
		return
	}
	rec.Status = PortEnabled

	if c.state == StateReconfiguring && port == PortOutput {
		c.setState(StateExecuting)
		if err := c.refreshOutputFormat(ctx); err != nil {
			c.logger().Error("refresh output format failed", slog.Any("error", err))
		}
		if c.outputFormatChanged {
			c.bufferFilled.Broadcast()
		}
		c.fillOutputBuffers(ctx)
	}
}

func (c *Core) handleFlushComplete(ctx context.Context, portArg Port) {
	ready := true
	forEachConcretePort(portArg, func(p Port) {
		rec := c.port(p)
		if rec.Status != PortShuttingDown {
			c.logger().Warn("Flush complete but port not shutting down", slog.String("port", p.String()))
			ready = false
			return
		}
		if rec.countWeOwn() != len(rec.Buffers) {
			c.logger().Error("Flush complete without owning all buffers", slog.String("port", p.String()))
			ready = false
			return
		}
	})
	if !ready {
		c.setState(StateError)
		return
	}
	forEachConcretePort(portArg, func(p Port) { c.port(p).Status = PortEnabled })

	switch {
	case c.state == StateReconfiguring:
		if err := c.backend.SendCommand(ctx, CmdPortDisable, int(PortOutput)); err != nil {
			c.logger().Error("PortDisable(output) failed", slog.Any("error", err))
			c.setState(StateError)
			return
		}
		c.output.Status = PortDisabling
	case c.state == StateExecutingToIdle:
		if c.input.Status == PortEnabled && c.output.Status == PortEnabled {
			c.input.Status = PortShuttingDown
			c.output.Status = PortShuttingDown
			if err := c.backend.SendCommand(ctx, CmdStateSet, int(BackendStateIdle)); err != nil {
				c.logger().Error("StateSet(Idle) failed", slog.Any("error", err))
				c.setState(StateError)
			}
		}
	default:
		// Seek path.
		c.paused = false
		c.drainInputBuffers(ctx)
		c.fillOutputBuffers(ctx)
	}
}

func (c *Core) handlePortSettingsChanged(ctx context.Context, port Port) {
	if c.state != StateExecuting {
		c.logger().Warn("PortSettingsChanged outside Executing", slog.String("state", c.state.String()))
		return
	}
	c.setState(StateReconfiguring)

	if c.quirks.RequiresFlushBeforeShutdown {
		c.output.Status = PortShuttingDown
		if err := c.backend.SendCommand(ctx, CmdFlush, int(PortOutput)); err != nil {
			c.logger().Error("Flush(output) failed", slog.Any("error", err))
			c.setState(StateError)
		}
		return
	}
	c.output.Status = PortDisabling
	if err := c.backend.SendCommand(ctx, CmdPortDisable, int(PortOutput)); err != nil {
		c.logger().Error("PortDisable(output) failed", slog.Any("error", err))
		c.setState(StateError)
	}
}

func (c *Core) handleEmptyBufferDone(ctx context.Context, h BufferHandle) {
	b := c.input.findByHandle(h)
	if b == nil {
		c.logger().Error("EmptyBufferDone for unknown handle", slog.Uint64("handle", uint64(h)))
		return
	}
	b.OwnedByComponent = false
	if b.sourceBuffer != nil {
		b.sourceBuffer.Release()
		b.sourceBuffer = nil
	}

	defer c.asyncCompletion.Broadcast() // wakes Stop's wait for an owned-by-us EOS buffer

	if c.input.Status == PortDisabling {
		c.freeOneBuffer(ctx, PortInput, b)
		return
	}
	if c.input.Status == PortShuttingDown || c.state == StateError {
		return
	}
	if err := c.drainInputBuffer(ctx, b); err != nil {
		c.logger().Error("re-drain input buffer failed", slog.Any("error", err))
	}
	c.maybeShortcutEOS()
}

func (c *Core) handleFillBufferDone(ctx context.Context, ev BackendEvent) {
	b := c.output.findByHandle(ev.FillHandle)
	if b == nil {
		c.logger().Error("FillBufferDone for unknown handle", slog.Uint64("handle", uint64(ev.FillHandle)))
		return
	}
	b.OwnedByComponent = false

	if c.quirks.DefersOutputAllocation && b.bound == nil {
		b.bound = &Deliverable{BufferID: uint64(b.Handle)}
	}

	if c.output.Status == PortDisabling {
		c.freeOutputPortIfAllOurs(ctx)
		return
	}

	d := b.bound
	d.Data = b.Data
	d.RangeOffset = ev.FillRangeOffset
	d.RangeLength = ev.FillRangeLength
	d.Time = ev.FillTimestamp
	d.IsSyncFrame = ev.FillFlags.Has(FlagSyncFrame)
	d.IsCodecConfig = ev.FillFlags.Has(FlagCodecConfig)
	d.PlatformData = ev.FillPlatform
	d.IsUnreadable = c.quirks.OutputBuffersAreUnreadable
	d.BufferID = uint64(b.Handle)

	if c.hasTargetTime {
		if ev.FillTimestamp < c.targetTime {
			if err := c.backend.FillBuffer(ctx, b.Handle); err != nil {
				c.logger().Error("re-fill skipped buffer failed", slog.Any("error", err))
				return
			}
			b.OwnedByComponent = true
			return
		}
		c.hasTargetTime = false
	}

	if ev.FillFlags.Has(FlagEOS) {
		c.noMoreOutputData = true
		c.bufferFilled.Broadcast()
		return
	}

	idx := c.outputIndexOf(b)
	if idx < 0 {
		c.logger().Error("filled buffer not found in output table")
		return
	}
	c.filled = append(c.filled, idx)
	c.bufferFilled.Broadcast()
	c.maybeShortcutEOS()
}

func (c *Core) outputIndexOf(b *BufferRecord) int {
	for i, x := range c.output.Buffers {
		if x == b {
			return i
		}
	}
	return -1
}

// freeOneBuffer frees a single buffer immediately and removes it from the
// port's table.
func (c *Core) freeOneBuffer(ctx context.Context, port Port, b *BufferRecord) {
	if err := c.backend.FreeBuffer(ctx, port, b.Handle); err != nil {
		c.logger().Error("free buffer failed", slog.String("port", port.String()), slog.Any("error", err))
		return
	}
	rec := c.port(port)
	for i, x := range rec.Buffers {
		if x == b {
			rec.Buffers = append(rec.Buffers[:i], rec.Buffers[i+1:]...)
			break
		}
	}
}

// freeOutputPortIfAllOurs frees every output buffer once we own all of
// them, letting the backend's pending PortDisable complete.
func (c *Core) freeOutputPortIfAllOurs(ctx context.Context) {
	if c.output.countWeOwn() != len(c.output.Buffers) {
		return
	}
	if err := c.freePort(ctx, PortOutput, false); err != nil {
		c.logger().Error("free output port failed", slog.Any("error", err))
	}
}
