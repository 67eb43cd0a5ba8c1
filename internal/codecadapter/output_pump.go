package codecadapter

import (
	"context"
	"log/slog"
)

// fillOutputBuffers submits every output buffer we currently own to the
// backend for filling. Must be called with mu held.
func (c *Core) fillOutputBuffers(ctx context.Context) {
	for _, b := range c.output.Buffers {
		if b.OwnedByComponent {
			continue
		}
		if err := c.backend.FillBuffer(ctx, b.Handle); err != nil {
			c.logger().Error("fill output buffer failed", slog.Any("error", err))
			continue
		}
		b.OwnedByComponent = true
	}
}

// maybeShortcutEOS implements the "EOS derivation shortcut": components that never emit an output EOS after draining are
// detected by noticing we own every buffer on both ports while
// signalledEOS is set. Thumbnail mode suppresses the shortcut because it
// would prevent fill_output_buffer from ever running for the one frame it
// needs. Must be called with mu held.
func (c *Core) maybeShortcutEOS() {
	if c.quirks.ThumbnailMode {
		return
	}
	if !c.signalledEOS || c.noMoreOutputData {
		return
	}
	if c.input.countWeOwn() != len(c.input.Buffers) {
		return
	}
	if c.output.countWeOwn() != len(c.output.Buffers) {
		return
	}
	c.noMoreOutputData = true
	c.bufferFilled.Broadcast()
}

// isObservableFormatChange compares the portion of SourceFormat visible
// to the consumer: MIME, width/height/color for
// video/image, channels/sample-rate for audio.
func isObservableFormatChange(prior, next SourceFormat) bool {
	if prior.MIME != next.MIME {
		return true
	}
	if prior.Width != next.Width || prior.Height != next.Height || prior.ColorFormat != next.ColorFormat {
		return true
	}
	if prior.Channels != next.Channels || prior.SampleRate != next.SampleRate {
		return true
	}
	return false
}

// refreshOutputFormat re-derives the output format from the backend's
// current port parameters and flags a format change if the observable
// portion differs from the last snapshot.
// Must be called with mu held.
func (c *Core) refreshOutputFormat(ctx context.Context) error {
	if c.prog == nil {
		return nil
	}
	next, err := c.prog.ProbeOutputFormat(ctx, c.backend)
	if err != nil {
		return err
	}
	if isObservableFormatChange(c.format, next) {
		c.outputFormatChanged = true
	}
	c.priorFormat = c.format
	c.format = next
	return nil
}
