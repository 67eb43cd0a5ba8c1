package codecadapter

import "errors"

// Sentinel errors returned by the public operation surface.
var (
	// ErrUnsupportedProfile is returned by Configure when no programmer
	// accepts the format or its codec configuration cannot be parsed.
	ErrUnsupportedProfile = errors.New("codecadapter: unsupported profile or format")

	// ErrParameterRejected is returned when the backend refuses a
	// set_parameter call issued during configuration.
	ErrParameterRejected = errors.New("codecadapter: backend rejected parameter")

	// ErrNoMemory is returned by Start when buffer allocation fails.
	ErrNoMemory = errors.New("codecadapter: buffer allocation failed")

	// ErrOversizeBuffer is returned when a source buffer cannot fit in an
	// empty input buffer at offset zero.
	ErrOversizeBuffer = errors.New("codecadapter: source buffer exceeds input buffer capacity")

	// ErrBackend wraps an error surfaced by the backend's Event(Error,...).
	ErrBackend = errors.New("codecadapter: backend reported an error")

	// ErrUnknown is the terminal status once the state machine has entered
	// StateError and no more specific cause is available.
	ErrUnknown = errors.New("codecadapter: unknown error")

	// ErrNotRunning is returned by Configure/Start/Read/Pause when the
	// adapter is not in a state that can serve them.
	ErrNotRunning = errors.New("codecadapter: not executing")

	// ErrClosed is returned by public operations after Close has torn the
	// adapter down to Dead.
	ErrClosed = errors.New("codecadapter: adapter closed")

	// ErrEndOfStream is returned by Read once the filled-buffer queue has
	// drained after signalledEOS.
	ErrEndOfStream = errors.New("codecadapter: end of stream")

	// ErrFormatChanged is returned by Read once, in place of a buffer,
	// when a port reconfiguration altered the observable output format.
	ErrFormatChanged = errors.New("codecadapter: output format changed")

	// errCorruptInput is the reason the Input Pump logs when it skips a
	// SourceCorruptUnit read; it is never returned to a caller.
	errCorruptInput = errors.New("codecadapter: corrupt input unit, skipping")
)

// ConfigError wraps a configuration-time failure with the MIME type and
// field that triggered it, so a caller can report which part of a format
// description the backend rejected.
type ConfigError struct {
	MIME  string
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "codecadapter: configure " + e.MIME + " " + e.Field + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }
