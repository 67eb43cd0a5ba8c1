package codecadapter

import (
	"context"
	"log/slog"
	"time"
)

var annexBStartCode = []byte{0x00, 0x00, 0x00, 0x01}

// drainInputBuffers iterates all input buffer records and attempts to
// drain each one not currently owned by the component. An
// encoder quirk may cap this to a small prefix, modeling a camera-style
// producer that retains a few buffers. Must be called with mu held.
func (c *Core) drainInputBuffers(ctx context.Context) {
	attempted := 0
	for _, b := range c.input.Buffers {
		if b.OwnedByComponent {
			continue
		}
		if n := c.quirks.LimitedInputDrainPrefix; n > 0 && attempted >= n {
			break
		}
		attempted++
		if err := c.drainInputBuffer(ctx, b); err != nil {
			c.logger().Error("drain input buffer failed", slog.Any("error", err))
		}
	}
}

// drainInputBuffer runs the core input-assembly algorithm for a single
// buffer record. Must be called with mu held.
func (c *Core) drainInputBuffer(ctx context.Context, info *BufferRecord) error {
	if c.signalledEOS {
		return nil
	}

	if c.csd.remaining() {
		return c.drainCodecConfig(ctx, info)
	}

	if c.paused {
		return nil
	}

	if c.quirks.AvoidMemcopyInputFrames && !c.quirks.CoalesceInputFrames {
		return c.drainInputBufferNoCopy(ctx, info)
	}

	offset := 0
	var firstTS, lastTS int64
	haveFirst := false
	signalEOS := false

	for {
		srcBuf, status, err := c.nextSourceBuffer(ctx)
		if err != nil {
			c.signalledEOS = true
			c.finalStatus = err
			signalEOS = true
			break
		}
		switch status {
		case SourceCorruptUnit:
			c.logger().Debug("skipping source unit", slog.Any("reason", errCorruptInput))
			continue
		case SourceEOS:
			c.signalledEOS = true
			c.finalStatus = nil
			signalEOS = true
		case SourceError:
			c.signalledEOS = true
			if c.finalStatus == nil {
				c.finalStatus = ErrUnknown
			}
			signalEOS = true
		}
		if signalEOS {
			break
		}

		length := srcBuf.RangeLength()
		if length > len(info.Data)-offset {
			if offset == 0 {
				srcBuf.Release()
				c.setState(StateError)
				return ErrOversizeBuffer
			}
			c.leftover = srcBuf
			break
		}

		data := srcBuf.Data()
		ro := srcBuf.RangeOffset()
		copy(info.Data[offset:], data[ro:ro+length])
		if !haveFirst {
			firstTS = srcBuf.Time()
			haveFirst = true
		}
		lastTS = srcBuf.Time()
		offset += length
		srcBuf.Release()

		if !c.quirks.CoalesceInputFrames {
			break
		}
		if time.Duration(lastTS-firstTS)*time.Microsecond > c.quirks.coalesceWindow() {
			break
		}
	}

	flags := FlagEndOfFrame
	if signalEOS {
		flags |= FlagEOS
	}
	if c.quirks.ThumbnailMode && !c.sawThumbnailInput {
		flags |= FlagEOS
		c.signalledEOS = true
		c.noMoreOutputData = false
		c.sawThumbnailInput = true
	}

	if err := c.backend.EmptyBuffer(ctx, info.Handle, 0, offset, flags, firstTS); err != nil {
		return err
	}
	info.OwnedByComponent = true

	if c.signalledEOS && c.quirks.NeverEmitsOutputEOS {
		c.noMoreOutputData = true
		c.bufferFilled.Broadcast()
	}
	return nil
}

// drainInputBufferNoCopy is the AvoidMemcopyInputFrames variant of
// drainInputBuffer: it aliases info.Data onto the source buffer's own
// memory for one submission rather than copying into the port's staging
// buffer, at the cost of never coalescing. The source buffer is released
// when the component returns this record, via handleEmptyBufferDone.
// Must be called with mu held.
func (c *Core) drainInputBufferNoCopy(ctx context.Context, info *BufferRecord) error {
	srcBuf, status, err := c.nextSourceBuffer(ctx)
	if err != nil {
		c.signalledEOS = true
		c.finalStatus = err
		return c.submitNoCopyEOS(ctx, info)
	}
	switch status {
	case SourceCorruptUnit:
		c.logger().Debug("skipping source unit", slog.Any("reason", errCorruptInput))
		return nil
	case SourceEOS:
		c.signalledEOS = true
		c.finalStatus = nil
		return c.submitNoCopyEOS(ctx, info)
	case SourceError:
		c.signalledEOS = true
		if c.finalStatus == nil {
			c.finalStatus = ErrUnknown
		}
		return c.submitNoCopyEOS(ctx, info)
	}

	data := srcBuf.Data()
	ro := srcBuf.RangeOffset()
	length := srcBuf.RangeLength()
	info.Data = data[ro : ro+length]
	info.sourceBuffer = srcBuf

	flags := FlagEndOfFrame
	if c.quirks.ThumbnailMode && !c.sawThumbnailInput {
		flags |= FlagEOS
		c.signalledEOS = true
		c.noMoreOutputData = false
		c.sawThumbnailInput = true
	}

	if err := c.backend.EmptyBuffer(ctx, info.Handle, 0, length, flags, srcBuf.Time()); err != nil {
		return err
	}
	info.OwnedByComponent = true
	return nil
}

// submitNoCopyEOS submits an empty EOS-flagged buffer once the source is
// exhausted, leaving info.Data untouched. Must be called with mu held.
func (c *Core) submitNoCopyEOS(ctx context.Context, info *BufferRecord) error {
	if err := c.backend.EmptyBuffer(ctx, info.Handle, 0, 0, FlagEndOfFrame|FlagEOS, 0); err != nil {
		return err
	}
	info.OwnedByComponent = true
	if c.quirks.NeverEmitsOutputEOS {
		c.noMoreOutputData = true
		c.bufferFilled.Broadcast()
	}
	return nil
}

// drainCodecConfig injects the next pending codec-specific-data blob ahead
// of any payload.
func (c *Core) drainCodecConfig(ctx context.Context, info *BufferRecord) error {
	blob, ok := c.csd.next()
	if !ok {
		return nil
	}

	n := copy(info.Data, blob.Data)
	if c.quirks.AVCPrependStartCode && !c.quirks.WantsNALFragments {
		n = copy(info.Data, annexBStartCode)
		n += copy(info.Data[n:], blob.Data)
	}

	if err := c.backend.EmptyBuffer(ctx, info.Handle, 0, n, FlagEndOfFrame|FlagCodecConfig, 0); err != nil {
		return err
	}
	info.OwnedByComponent = true
	return nil
}

// nextSourceBuffer resolves the next buffer to coalesce: a pending seek
// read, a held leftover, or a plain source read.
func (c *Core) nextSourceBuffer(ctx context.Context) (SourceBuffer, SourceStatus, error) {
	opts := ReadOptions{}
	if c.hasSkip {
		opts.HasSkip = true
		opts.SkipTime = c.skipTime
	}

	if c.hasSeek {
		if c.leftover != nil {
			c.leftover.Release()
			c.leftover = nil
		}
		opts.HasSeek = true
		opts.SeekTime = c.seekTime
		opts.SeekMode = c.seekMode
		c.hasSeek = false

		buf, status, err := c.source.Read(ctx, opts)
		c.asyncCompletion.Broadcast() // read() waits for seek_time to clear
		if err == nil && status == SourceOK {
			if tt, ok := buf.TargetTime(); ok {
				c.hasTargetTime = true
				c.targetTime = tt
			} else {
				c.hasTargetTime = false
			}
		}
		return buf, status, err
	}

	if c.leftover != nil {
		buf := c.leftover
		c.leftover = nil
		return buf, SourceOK, nil
	}

	return c.source.Read(ctx, opts)
}
