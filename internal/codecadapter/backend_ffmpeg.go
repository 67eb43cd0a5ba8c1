package codecadapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/jmylchreest/tvarr/internal/util"
)

// FFmpegBackend drives a real ffmpeg subprocess as the asynchronous codec
// component: input buffers emptied by the core are written to ffmpeg's
// stdin, and decoded output read from stdout is sliced into the output
// port's buffers and reported via FillBufferDone. It is grounded on the
// same stdin/stdout piping and process-monitoring shape as the
// subprocess-driven transcoder this application runs for live streams,
// adapted from one-shot command execution into the buffer-oriented,
// event-driven protocol this package's Core expects.
type FFmpegBackend struct {
	mu   sync.Mutex
	log  *slog.Logger
	sink func(BackendEvent)

	binaryPath string
	mime       string
	ffmpegArgs []string

	inputBufSize  int
	outputBufSize int

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	monitor *ProcessMonitor

	inputBufs  map[BufferHandle][]byte
	outputBufs map[BufferHandle][]byte
	nextHandle BufferHandle

	state BackendState
}

// FFmpegBackendConfig configures a FFmpegBackend instance.
type FFmpegBackendConfig struct {
	// BinaryPath is the ffmpeg executable; empty auto-detects via the
	// CODECADAPTER_FFMPEG_BINARY env var, then ./ffmpeg, then PATH.
	BinaryPath string
	// MIME is the input elementary stream's MIME type (MIMEVideoAVC,
	// MIMEAudioAAC, ...). It is stored but not passed to ffmpeg: no input
	// -f option is given, so ffmpeg probes the input format itself.
	MIME string
	// RawOutputArgs are ffmpeg output arguments selecting the raw decoded
	// format written to stdout (e.g. "-f", "rawvideo", "-pix_fmt", "yuv420p"
	// for video, or "-f", "s16le" for PCM audio). Callers choose these
	// based on the negotiated output SourceFormat.
	RawOutputArgs []string
	InputBufSize  int
	OutputBufSize int
}

// NewFFmpegBackend resolves the ffmpeg binary and returns a Backend ready
// for PortDefinition/AllocateBuffer calls. The subprocess itself is not
// started until SendCommand(CmdStateSet, BackendStateIdle).
func NewFFmpegBackend(cfg FFmpegBackendConfig, log *slog.Logger) (*FFmpegBackend, error) {
	binPath := cfg.BinaryPath
	if binPath == "" {
		found, err := util.FindBinary("ffmpeg", "CODECADAPTER_FFMPEG_BINARY")
		if err != nil {
			return nil, fmt.Errorf("locating ffmpeg: %w", err)
		}
		binPath = found
	}

	inputBufSize := cfg.InputBufSize
	if inputBufSize <= 0 {
		inputBufSize = defaultInputBufferSize
	}
	outputBufSize := cfg.OutputBufSize
	if outputBufSize <= 0 {
		outputBufSize = defaultOutputBufferSize
	}

	return &FFmpegBackend{
		log:           WithComponent(log, "ffmpeg_backend"),
		binaryPath:    binPath,
		mime:          cfg.MIME,
		ffmpegArgs:    cfg.RawOutputArgs,
		inputBufSize:  inputBufSize,
		outputBufSize: outputBufSize,
		inputBufs:     make(map[BufferHandle][]byte),
		outputBufs:    make(map[BufferHandle][]byte),
		state:         BackendStateLoaded,
	}, nil
}

func (b *FFmpegBackend) SetEventSink(sink func(BackendEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// emit reports ev on a separate goroutine. The core's event handlers
// acquire its monitor lock, and every path that leads here (EmptyBuffer,
// FillBuffer, SendCommand) is itself invoked by the core with that same
// lock held; calling the sink in-line would deadlock against it. A real
// remote component would never report completion on the caller's own
// stack either, so this also keeps the contract honest for callers
// relying on SetEventSink's cross-thread guarantee.
func (b *FFmpegBackend) emit(ev BackendEvent) {
	b.mu.Lock()
	sink := b.sink
	b.mu.Unlock()
	if sink != nil {
		go sink(ev)
	}
}

func (b *FFmpegBackend) PortDefinition(ctx context.Context, port Port) (PortDefinition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch port {
	case PortInput:
		return PortDefinition{BufferCountActual: 4, BufferSize: b.inputBufSize}, nil
	default:
		return PortDefinition{BufferCountActual: 4, BufferSize: b.outputBufSize}, nil
	}
}

func (b *FFmpegBackend) AllocateBuffer(ctx context.Context, port Port, size int) (BufferHandle, []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := b.nextHandle
	mem := make([]byte, size)
	if port == PortInput {
		b.inputBufs[h] = mem
	} else {
		b.outputBufs[h] = mem
	}
	return h, mem, nil
}

func (b *FFmpegBackend) AllocateBufferWithBackup(ctx context.Context, port Port, memory []byte) (BufferHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextHandle++
	h := b.nextHandle
	if port == PortInput {
		b.inputBufs[h] = memory
	} else {
		b.outputBufs[h] = memory
	}
	return h, nil
}

func (b *FFmpegBackend) UseBuffer(ctx context.Context, port Port, memory []byte) (BufferHandle, error) {
	return b.AllocateBufferWithBackup(ctx, port, memory)
}

func (b *FFmpegBackend) FreeBuffer(ctx context.Context, port Port, handle BufferHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if port == PortInput {
		delete(b.inputBufs, handle)
	} else {
		delete(b.outputBufs, handle)
	}
	return nil
}

// EmptyBuffer writes the input buffer's payload to ffmpeg's stdin and
// reports completion once the write has been accepted by the pipe.
func (b *FFmpegBackend) EmptyBuffer(ctx context.Context, handle BufferHandle, offset, length int, flags BufferFlags, timestamp int64) error {
	b.mu.Lock()
	mem, ok := b.inputBufs[handle]
	stdin := b.stdin
	monitor := b.monitor
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("empty buffer: unknown handle %d", handle)
	}

	if length > 0 && stdin != nil {
		n, err := stdin.Write(mem[offset : offset+length])
		if monitor != nil {
			monitor.AddBytesWritten(uint64(n))
		}
		if err != nil {
			b.emit(NewEvent(EventError, 0, 0, PortInput, fmt.Errorf("%w: writing ffmpeg stdin: %v", ErrBackend, err)))
			return nil
		}
	}
	if flags.Has(FlagEOS) && stdin != nil {
		stdin.Close()
	}

	b.emit(NewEmptyBufferDone(handle))
	return nil
}

// FillBuffer blocks reading ffmpeg's stdout until this buffer is full or
// the stream ends, then reports FillBufferDone.
func (b *FFmpegBackend) FillBuffer(ctx context.Context, handle BufferHandle) error {
	b.mu.Lock()
	mem, ok := b.outputBufs[handle]
	stdout := b.stdout
	monitor := b.monitor
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("fill buffer: unknown handle %d", handle)
	}
	if stdout == nil {
		b.emit(NewFillBufferDone(handle, 0, 0, FlagEOS, timestamp(), nil))
		return nil
	}

	n, err := io.ReadFull(stdout, mem)
	if monitor != nil && n > 0 {
		monitor.AddBytesRead(uint64(n))
	}
	switch {
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		b.emit(NewFillBufferDone(handle, 0, n, FlagEOS, timestamp(), nil))
	case err != nil:
		b.emit(NewEvent(EventError, 0, 0, PortOutput, fmt.Errorf("%w: reading ffmpeg stdout: %v", ErrBackend, err)))
	default:
		b.emit(NewFillBufferDone(handle, 0, n, 0, timestamp(), nil))
	}
	return nil
}

func timestamp() int64 { return time.Now().UnixMicro() }

// SendCommand starts or stops the ffmpeg subprocess on state transitions;
// Flush and port enable/disable are no-ops ffmpeg cannot honor mid-stream,
// so RequiresFlushCompleteEmulation should be set in Quirks for this
// backend.
func (b *FFmpegBackend) SendCommand(ctx context.Context, cmd Command, arg int) error {
	switch cmd {
	case CmdStateSet:
		return b.handleStateSet(ctx, BackendState(arg))
	case CmdFlush, CmdPortDisable, CmdPortEnable:
		return nil
	default:
		return fmt.Errorf("send command: unsupported command %d", cmd)
	}
}

func (b *FFmpegBackend) handleStateSet(ctx context.Context, target BackendState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case target == BackendStateIdle && b.state == BackendStateLoaded:
		if err := b.startProcess(ctx); err != nil {
			return err
		}
	case target == BackendStateExecuting:
		// already running from Idle; nothing further to spawn.
	case target == BackendStateIdle && b.state != BackendStateLoaded:
		b.stopProcessLocked()
	}
	b.state = target

	port := PortInput
	b.emit(NewEvent(EventCmdComplete, CmdCompleteStateSet, target, port, nil))
	return nil
}

func (b *FFmpegBackend) startProcess(ctx context.Context) error {
	args := append([]string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}, b.ffmpegArgs...)
	args = append(args, "pipe:1")

	b.cmd = exec.CommandContext(ctx, b.binaryPath, args...)
	stdin, err := b.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	stdout, err := b.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := b.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	b.stdin = stdin
	b.stdout = stdout
	b.monitor = NewProcessMonitor(b.cmd.Process.Pid)
	b.monitor.Start()

	go b.logStderr(stderr)
	return nil
}

func (b *FFmpegBackend) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		b.log.Debug("ffmpeg stderr", slog.String("line", scanner.Text()))
	}
}

func (b *FFmpegBackend) stopProcessLocked() {
	if b.monitor != nil {
		b.monitor.Stop()
		b.monitor = nil
	}
	if b.stdin != nil {
		b.stdin.Close()
		b.stdin = nil
	}
	if b.cmd != nil && b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
		_ = b.cmd.Wait()
	}
	b.cmd = nil
	b.stdout = nil
}

// Stats returns CPU/memory/bandwidth statistics for the running ffmpeg
// process, or false if no process is active.
func (b *FFmpegBackend) Stats() (ProcessStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.monitor == nil {
		return ProcessStats{}, false
	}
	return b.monitor.Stats(), true
}

func (b *FFmpegBackend) GetParameter(ctx context.Context, index int, out any) error {
	return fmt.Errorf("%w: GetParameter(%d) not supported by ffmpeg backend", ErrParameterRejected, index)
}

func (b *FFmpegBackend) SetParameter(ctx context.Context, index int, in any) error {
	return nil
}

func (b *FFmpegBackend) GetConfig(ctx context.Context, index int, out any) error {
	return fmt.Errorf("%w: GetConfig(%d) not supported by ffmpeg backend", ErrParameterRejected, index)
}

func (b *FFmpegBackend) SetConfig(ctx context.Context, index int, in any) error {
	return nil
}

func (b *FFmpegBackend) GetExtensionIndex(ctx context.Context, name string) (int, error) {
	return 0, fmt.Errorf("%w: extension %q not supported by ffmpeg backend", ErrParameterRejected, name)
}

func (b *FFmpegBackend) FreeNode(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopProcessLocked()
	b.sink = nil
	return nil
}
