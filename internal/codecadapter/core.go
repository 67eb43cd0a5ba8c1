package codecadapter

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Core is the codec adapter mediator. All public methods serialize on
// a single monitor lock; two condition variables gate waits tied to state
// transitions and buffer delivery respectively.
type Core struct {
	id      uuid.UUID
	log     *slog.Logger
	backend Backend
	source  Source
	quirks  Quirks
	prog    Programmer

	mu              sync.Mutex
	asyncCompletion *sync.Cond
	bufferFilled    *sync.Cond

	state  State
	input  PortRecord
	output PortRecord
	csd    *csdQueue

	filled []int // indices into output.Buffers, oldest first

	hasSeek  bool
	seekTime int64
	seekMode SeekMode

	hasSkip  bool
	skipTime int64

	hasTargetTime bool
	targetTime    int64

	paused              bool
	signalledEOS        bool
	noMoreOutputData    bool
	finalStatus         error
	outputFormatChanged bool
	initialBufferSubmit bool
	sawThumbnailInput   bool

	leftover SourceBuffer

	format      SourceFormat
	priorFormat SourceFormat
}

// New constructs a Core bound to the given backend and upstream source. The
// backend's event sink is installed here; the core revokes it at Close-time
// teardown via FreeNode.
func New(backend Backend, source Source, quirks Quirks, prog Programmer, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	c := &Core{
		id:      uuid.New(),
		log:     log,
		backend: backend,
		source:  source,
		quirks:  quirks,
		prog:    prog,
		csd:     newCSDQueue(),
		state:   StateLoaded,
		input:   PortRecord{Status: PortEnabled},
		output:  PortRecord{Status: PortEnabled},
	}
	c.asyncCompletion = sync.NewCond(&c.mu)
	c.bufferFilled = sync.NewCond(&c.mu)
	backend.SetEventSink(c.onEvent)
	return c
}

func (c *Core) logger() *slog.Logger {
	return c.log.With(slog.String("adapter_id", c.id.String()))
}

// setState transitions the state machine and wakes every public operation
// waiting on a transition. Must be called with mu held.
func (c *Core) setState(s State) {
	if c.state == s {
		return
	}
	c.logger().Debug("state transition", slog.String("from", c.state.String()), slog.String("to", s.String()))
	c.state = s
	c.asyncCompletion.Broadcast()
}

// waitWhileIntermediate blocks until the state is no longer one of the
// Intermediate values. Must be
// called with mu held.
func (c *Core) waitWhileIntermediate() {
	for c.state.Intermediate() {
		c.asyncCompletion.Wait()
	}
}

// resetBookmarks clears the per-cycle time bookmarks and EOS flags ahead
// of a fresh start().
func (c *Core) resetBookmarks() {
	c.hasSeek = false
	c.seekTime = 0
	c.hasSkip = false
	c.skipTime = 0
	c.hasTargetTime = false
	c.targetTime = 0
	c.paused = false
	c.signalledEOS = false
	c.noMoreOutputData = false
	c.finalStatus = nil
	c.outputFormatChanged = false
	c.initialBufferSubmit = false
	c.sawThumbnailInput = false
	c.filled = c.filled[:0]
	c.csd.reset()
}
