package codecadapter

import "context"

// BackendState is the subset of component states the backend reports back
// via Event(CmdComplete, StateSet,...).
type BackendState int

const (
	BackendStateLoaded BackendState = iota
	BackendStateIdle
	BackendStateExecuting
	BackendStatePause
	BackendStateInvalid
)

// Command identifies a send_command verb.
type Command int

const (
	CmdStateSet Command = iota
	CmdPortDisable
	CmdPortEnable
	CmdFlush
)

// EventCode identifies the kind of Event delivered through the callback.
type EventCode int

const (
	EventCmdComplete EventCode = iota
	EventPortSettingsChanged
	EventError
)

// CmdCompleteKind further qualifies an EventCmdComplete.
type CmdCompleteKind int

const (
	CmdCompleteStateSet CmdCompleteKind = iota
	CmdCompletePortDisable
	CmdCompletePortEnable
	CmdCompleteFlush
)

// BackendEvent is one of the three shapes a backend callback can deliver
//: a generic Event, an EmptyBufferDone, or a
// FillBufferDone. Exactly one constructor should be used per delivery.
type BackendEvent struct {
	kind eventKind

	// Event(code, d1, d2)
	Code       EventCode
	CmdKind    CmdCompleteKind
	StateArg   BackendState
	PortArg    Port
	ErrorValue error

	// EmptyBufferDone(handle)
	EmptyHandle BufferHandle

	// FillBufferDone(handle, range_offset, range_length, flags, timestamp, platform_data)
	FillHandle      BufferHandle
	FillRangeOffset int
	FillRangeLength int
	FillFlags       BufferFlags
	FillTimestamp   int64
	FillPlatform    any
}

type eventKind int

const (
	eventKindGeneric eventKind = iota
	eventKindEmptyBufferDone
	eventKindFillBufferDone
)

func NewEvent(code EventCode, cmdKind CmdCompleteKind, state BackendState, port Port, errv error) BackendEvent {
	return BackendEvent{kind: eventKindGeneric, Code: code, CmdKind: cmdKind, StateArg: state, PortArg: port, ErrorValue: errv}
}

func NewEmptyBufferDone(h BufferHandle) BackendEvent {
	return BackendEvent{kind: eventKindEmptyBufferDone, EmptyHandle: h}
}

func NewFillBufferDone(h BufferHandle, rangeOffset, rangeLength int, flags BufferFlags, ts int64, platform any) BackendEvent {
	return BackendEvent{
		kind: eventKindFillBufferDone, FillHandle: h, FillRangeOffset: rangeOffset,
		FillRangeLength: rangeLength, FillFlags: flags, FillTimestamp: ts, FillPlatform: platform,
	}
}

// PortDefinition is what allocate_port queries from the backend before
// building buffer records.
type PortDefinition struct {
	BufferCountActual int
	BufferSize        int
}

// Backend is the opaque remote codec component the core drives. It is consumed, never implemented, by this package; a real backend
// lives behind a process boundary, a shared library, or a hardware driver.
type Backend interface {
	PortDefinition(ctx context.Context, port Port) (PortDefinition, error)

	AllocateBuffer(ctx context.Context, port Port, size int) (BufferHandle, []byte, error)
	AllocateBufferWithBackup(ctx context.Context, port Port, memory []byte) (BufferHandle, error)
	UseBuffer(ctx context.Context, port Port, memory []byte) (BufferHandle, error)
	FreeBuffer(ctx context.Context, port Port, handle BufferHandle) error

	EmptyBuffer(ctx context.Context, handle BufferHandle, offset, length int, flags BufferFlags, timestamp int64) error
	FillBuffer(ctx context.Context, handle BufferHandle) error

	SendCommand(ctx context.Context, cmd Command, arg int) error

	GetParameter(ctx context.Context, index int, out any) error
	SetParameter(ctx context.Context, index int, in any) error
	GetConfig(ctx context.Context, index int, out any) error
	SetConfig(ctx context.Context, index int, in any) error
	GetExtensionIndex(ctx context.Context, name string) (int, error)

	// SetEventSink installs the core's callback capability. The backend
	// holds it for the adapter's lifetime and must stop invoking it once
	// FreeNode returns. The sink acquires the core's lock, so the backend
	// must invoke it from a goroutine other than one inside a call from
	// the core.
	SetEventSink(sink func(BackendEvent))

	FreeNode(ctx context.Context) error
}
