package codecadapter

import "time"

// AllocationMode selects how a port's buffers are allocated against the
// backend.
type AllocationMode int

const (
	// AllocBackend: the backend allocates and owns the memory; it returns
	// its own pointer.
	AllocBackend AllocationMode = iota
	// AllocBackendWithBackup: we provide a caller-side memory region as a
	// backup and the backend returns a handle referencing it.
	AllocBackendWithBackup
	// AllocUseBuffer: we provide the memory and the backend only
	// references it.
	AllocUseBuffer
)

// Quirks configures per-component behavioral deviations. It is passed into
// the core at construction and is never process-global state.
type Quirks struct {
	// InputAllocationMode and OutputAllocationMode pick the allocation
	// strategy per port.
	InputAllocationMode  AllocationMode
	OutputAllocationMode AllocationMode

	// DefersOutputAllocation: the backend promises to fill in the output
	// buffer's bound pointer lazily on first FillBufferDone rather than at
	// allocation time.
	DefersOutputAllocation bool

	// RequiresLoadedToIdleAfterAllocation: submit StateSet(Idle) only after
	// port buffers are allocated, rather than before.
	RequiresLoadedToIdleAfterAllocation bool

	// RequiresFlushBeforeShutdown: stop() marks both ports ShuttingDown and
	// flushes them before StateSet(Idle) is submitted, rather than
	// submitting StateSet(Idle) directly.
	RequiresFlushBeforeShutdown bool

	// RequiresFlushCompleteEmulation: the backend never completes a Flush
	// command on its own; the core must emulate completion locally.
	RequiresFlushCompleteEmulation bool

	// SendEOSOnInputEOS: the encoder requires an explicit EOS-flagged
	// input buffer on stop() rather than relying on natural drain.
	SendEOSOnInputEOS bool

	// NeverEmitsOutputEOS: the component drains internally but never marks
	// a fill-buffer-done with FlagEOS; the "we own all buffers" shortcut
	// must be used instead.
	NeverEmitsOutputEOS bool

	// CoalesceInputFrames: pack multiple source frames into one input
	// buffer when they fit.
	CoalesceInputFrames bool

	// CoalesceWindow bounds how much logical duration may be coalesced
	// into one input buffer. Zero uses DefaultCoalesceWindow.
	CoalesceWindow time.Duration

	// LimitedInputDrainPrefix caps drain_input_buffers to this many
	// buffers per call (0 = no cap). Models camera-style producers that
	// retain a few buffers.
	LimitedInputDrainPrefix int

	// AVCPrependStartCode: prefix codec-specific-data submissions with the
	// four-byte Annex B start code. Payload submissions are copied as-is.
	AVCPrependStartCode bool

	// WantsNALFragments: forwarded to the upstream source's start() hint;
	// when true, AVCPrependStartCode is not applied even if set.
	WantsNALFragments bool

	// ThumbnailMode: one-shot decode, EOS on the very first input buffer.
	ThumbnailMode bool

	// OutputBuffersAreUnreadable: mark delivered buffers IsUnreadable
	// (e.g. secure/DRM buffers the caller cannot touch directly).
	OutputBuffersAreUnreadable bool

	// AvoidMemcopyInputFrames: when a single source buffer fits in one
	// input buffer outright (no coalescing), alias the input buffer's
	// Data directly onto the source buffer's own memory instead of
	// copying into the port's allocated staging buffer. Models a
	// recording-style source whose frames already live in buffers the
	// component can reference without a copy. Incompatible with
	// CoalesceInputFrames, which requires a contiguous staging buffer.
	AvoidMemcopyInputFrames bool

	// RequiresLargerEncoderOutputBuffer: grow the output port's
	// allocated buffer size beyond what PortDefinition reports, since
	// some encoders' declared size undershoots their actual worst-case
	// output frame.
	RequiresLargerEncoderOutputBuffer bool
}

// DefaultCoalesceWindow is the default input-coalescing threshold.
// Exposed as a default, not a hardcoded constant, so callers can override
// it per backend.
const DefaultCoalesceWindow = 250 * time.Millisecond

func (q Quirks) coalesceWindow() time.Duration {
	if q.CoalesceWindow > 0 {
		return q.CoalesceWindow
	}
	return DefaultCoalesceWindow
}
