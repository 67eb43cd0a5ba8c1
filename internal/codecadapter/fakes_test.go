package codecadapter

import (
	"context"
	"sync"
)

// recordingBackend is a minimal, synchronous Backend stub used by the
// input/output pump unit tests: it records what was submitted without
// ever invoking the event sink, so tests can assert on submission
// order without racing an asynchronous callback.
type recordingBackend struct {
	emptyCalls []recordedEmpty
	fillCalls  []BufferHandle
}

type recordedEmpty struct {
	handle BufferHandle
	offset int
	length int
	flags  BufferFlags
	ts     int64
}

func (b *recordingBackend) PortDefinition(ctx context.Context, port Port) (PortDefinition, error) {
	return PortDefinition{BufferCountActual: 1, BufferSize: 4096}, nil
}
func (b *recordingBackend) AllocateBuffer(ctx context.Context, port Port, size int) (BufferHandle, []byte, error) {
	return 1, make([]byte, size), nil
}
func (b *recordingBackend) AllocateBufferWithBackup(ctx context.Context, port Port, memory []byte) (BufferHandle, error) {
	return 1, nil
}
func (b *recordingBackend) UseBuffer(ctx context.Context, port Port, memory []byte) (BufferHandle, error) {
	return 1, nil
}
func (b *recordingBackend) FreeBuffer(ctx context.Context, port Port, handle BufferHandle) error {
	return nil
}
func (b *recordingBackend) EmptyBuffer(ctx context.Context, handle BufferHandle, offset, length int, flags BufferFlags, ts int64) error {
	b.emptyCalls = append(b.emptyCalls, recordedEmpty{handle, offset, length, flags, ts})
	return nil
}
func (b *recordingBackend) FillBuffer(ctx context.Context, handle BufferHandle) error {
	b.fillCalls = append(b.fillCalls, handle)
	return nil
}
func (b *recordingBackend) SendCommand(ctx context.Context, cmd Command, arg int) error { return nil }
func (b *recordingBackend) GetParameter(ctx context.Context, index int, out any) error  { return nil }
func (b *recordingBackend) SetParameter(ctx context.Context, index int, in any) error   { return nil }
func (b *recordingBackend) GetConfig(ctx context.Context, index int, out any) error     { return nil }
func (b *recordingBackend) SetConfig(ctx context.Context, index int, in any) error      { return nil }
func (b *recordingBackend) GetExtensionIndex(ctx context.Context, name string) (int, error) {
	return 0, nil
}
func (b *recordingBackend) SetEventSink(sink func(BackendEvent)) {}
func (b *recordingBackend) FreeNode(ctx context.Context) error   { return nil }

// fakeSourceBuffer is a fixed in-memory SourceBuffer.
type fakeSourceBuffer struct {
	data     []byte
	ts       int64
	released bool
}

func (b *fakeSourceBuffer) Data() []byte          { return b.data }
func (b *fakeSourceBuffer) RangeOffset() int      { return 0 }
func (b *fakeSourceBuffer) RangeLength() int      { return len(b.data) }
func (b *fakeSourceBuffer) Time() int64           { return b.ts }
func (b *fakeSourceBuffer) TargetTime() (int64, bool) { return 0, false }
func (b *fakeSourceBuffer) Release()              { b.released = true }

// fakeSource serves a fixed sequence of frames, then SourceEOS.
type fakeSource struct {
	mu         sync.Mutex
	frames     []*fakeSourceBuffer
	idx        int
	startCalls int
	stopCalls  int
	startErr   error
}

func (s *fakeSource) Start(ctx context.Context, opts StartOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return s.startErr
}
func (s *fakeSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}
func (s *fakeSource) Read(ctx context.Context, opts ReadOptions) (SourceBuffer, SourceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.frames) {
		return nil, SourceEOS, nil
	}
	f := s.frames[s.idx]
	s.idx++
	return f, SourceOK, nil
}

// fakeProgrammer returns a fixed CSD set and a mutable probed format, so
// tests can flip Format between Read calls to exercise format-change
// detection without a real backend parameter round-trip.
type fakeProgrammer struct {
	csd    [][]byte
	format SourceFormat
}

func (p *fakeProgrammer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	return p.csd, nil
}
func (p *fakeProgrammer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	return p.format, nil
}

// fakeBackend is a self-contained asynchronous Backend: every command
// and buffer submission completes on a separate goroutine through the
// installed event sink, mirroring the cross-thread callback contract
// the real adapter is built against.
type fakeBackend struct {
	mu sync.Mutex

	sink func(BackendEvent)

	inputCount, outputCount int
	bufferSize              int
	nextHandle              BufferHandle

	inputMem  map[BufferHandle][]byte
	outputMem map[BufferHandle][]byte

	pending []pendingFill
	waiters []BufferHandle

	freeNodeCalled bool
}

type pendingFill struct {
	data  []byte
	flags BufferFlags
	ts    int64
}

func newFakeBackend(inputCount, outputCount, bufferSize int) *fakeBackend {
	return &fakeBackend{
		inputCount:  inputCount,
		outputCount: outputCount,
		bufferSize:  bufferSize,
		inputMem:    make(map[BufferHandle][]byte),
		outputMem:   make(map[BufferHandle][]byte),
	}
}

func (b *fakeBackend) emit(ev BackendEvent) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		go sink(ev)
	}
}

func (b *fakeBackend) SetEventSink(sink func(BackendEvent)) {
	b.mu.Lock()
	b.sink = sink
	b.mu.Unlock()
}

func (b *fakeBackend) PortDefinition(ctx context.Context, port Port) (PortDefinition, error) {
	n := b.inputCount
	if port == PortOutput {
		n = b.outputCount
	}
	return PortDefinition{BufferCountActual: n, BufferSize: b.bufferSize}, nil
}

func (b *fakeBackend) AllocateBuffer(ctx context.Context, port Port, size int) (BufferHandle, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := b.nextHandle
	mem := make([]byte, size)
	if port == PortInput {
		b.inputMem[h] = mem
	} else {
		b.outputMem[h] = mem
	}
	return h, mem, nil
}
func (b *fakeBackend) AllocateBufferWithBackup(ctx context.Context, port Port, memory []byte) (BufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := b.nextHandle
	if port == PortInput {
		b.inputMem[h] = memory
	} else {
		b.outputMem[h] = memory
	}
	return h, nil
}
func (b *fakeBackend) UseBuffer(ctx context.Context, port Port, memory []byte) (BufferHandle, error) {
	return b.AllocateBufferWithBackup(ctx, port, memory)
}
func (b *fakeBackend) FreeBuffer(ctx context.Context, port Port, handle BufferHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inputMem, handle)
	delete(b.outputMem, handle)
	return nil
}

func (b *fakeBackend) EmptyBuffer(ctx context.Context, handle BufferHandle, offset, length int, flags BufferFlags, ts int64) error {
	b.mu.Lock()
	mem := b.inputMem[handle]
	data := make([]byte, length)
	copy(data, mem[offset:offset+length])

	var waitHandle BufferHandle
	haveWaiter := false
	if len(b.waiters) > 0 {
		waitHandle = b.waiters[0]
		b.waiters = b.waiters[1:]
		haveWaiter = true
	} else {
		b.pending = append(b.pending, pendingFill{data: data, flags: flags, ts: ts})
	}
	var outMem []byte
	if haveWaiter {
		outMem = b.outputMem[waitHandle]
	}
	b.mu.Unlock()

	b.emit(NewEmptyBufferDone(handle))
	if haveWaiter {
		n := copy(outMem, data)
		b.emit(NewFillBufferDone(waitHandle, 0, n, flags, ts, nil))
	}
	return nil
}

func (b *fakeBackend) FillBuffer(ctx context.Context, handle BufferHandle) error {
	b.mu.Lock()
	var p *pendingFill
	if len(b.pending) > 0 {
		pf := b.pending[0]
		b.pending = b.pending[1:]
		p = &pf
	} else {
		b.waiters = append(b.waiters, handle)
	}
	mem := b.outputMem[handle]
	b.mu.Unlock()

	if p != nil {
		n := copy(mem, p.data)
		b.emit(NewFillBufferDone(handle, 0, n, p.flags, p.ts, nil))
	}
	return nil
}

func (b *fakeBackend) SendCommand(ctx context.Context, cmd Command, arg int) error {
	switch cmd {
	case CmdStateSet:
		b.emit(NewEvent(EventCmdComplete, CmdCompleteStateSet, BackendState(arg), PortInput, nil))
	case CmdPortDisable:
		b.emit(NewEvent(EventCmdComplete, CmdCompletePortDisable, BackendStateInvalid, Port(arg), nil))
	case CmdPortEnable:
		b.emit(NewEvent(EventCmdComplete, CmdCompletePortEnable, BackendStateInvalid, Port(arg), nil))
	case CmdFlush:
		b.emit(NewEvent(EventCmdComplete, CmdCompleteFlush, BackendStateInvalid, Port(arg), nil))
	}
	return nil
}

func (b *fakeBackend) GetParameter(ctx context.Context, index int, out any) error { return nil }
func (b *fakeBackend) SetParameter(ctx context.Context, index int, in any) error  { return nil }
func (b *fakeBackend) GetConfig(ctx context.Context, index int, out any) error    { return nil }
func (b *fakeBackend) SetConfig(ctx context.Context, index int, in any) error     { return nil }
func (b *fakeBackend) GetExtensionIndex(ctx context.Context, name string) (int, error) {
	return 0, nil
}
func (b *fakeBackend) FreeNode(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.freeNodeCalled = true
	return nil
}
