package codecadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// TrackKind selects which elementary stream an MPEGTSSource serves: the
// Core drives one codec component per track, so one Source instance feeds
// exactly one of them.
type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

// mpegtsSample is one demuxed access unit queued for delivery via Read.
type mpegtsSample struct {
	pts  int64
	data []byte
}

// MPEGTSSource demuxes an MPEG-TS stream using mediacommon and serves one
// track's access units as SourceBuffers, pulled by the core's input pump.
// Grounded on this application's stream demuxer, which wraps the same
// mpegts.Reader over an io.Pipe and dispatches per-codec callbacks;
// trimmed here to a single selected track and adapted from a
// push-into-shared-buffer model to the pull-based Source.Read contract.
type MPEGTSSource struct {
	log   *slog.Logger
	r     io.Reader
	kind  TrackKind
	track *mpegts.Track

	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	reader     *mpegts.Reader

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []mpegtsSample
	maxQueue int
	stopped  bool
	readErr  error

	format SourceFormat

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMPEGTSSource builds a Source that reads MPEG-TS from r and serves the
// first track matching kind.
func NewMPEGTSSource(r io.Reader, kind TrackKind, log *slog.Logger) *MPEGTSSource {
	if log == nil {
		log = slog.Default()
	}
	s := &MPEGTSSource{
		log:      WithComponent(log, "mpegts_source"),
		r:        r,
		kind:     kind,
		maxQueue: 64,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start begins demuxing in the background. opts.WantsFragments is ignored:
// this source always delivers whole access units.
func (s *MPEGTSSource) Start(ctx context.Context, opts StartOptions) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.pipeReader, s.pipeWriter = io.Pipe()
	s.reader = &mpegts.Reader{R: s.pipeReader}

	s.wg.Add(2)
	go s.pumpInput()
	go s.runReader()
	return nil
}

// pumpInput copies the upstream MPEG-TS byte stream into the reader's pipe.
func (s *MPEGTSSource) pumpInput() {
	defer s.wg.Done()
	defer s.pipeWriter.Close()

	buf := make([]byte, 188*100)
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		n, err := s.r.Read(buf)
		if n > 0 {
			if _, werr := s.pipeWriter.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *MPEGTSSource) runReader() {
	defer s.wg.Done()
	defer s.pipeReader.Close()

	if err := s.reader.Initialize(); err != nil {
		s.fail(fmt.Errorf("initializing mpegts reader: %w", err))
		return
	}
	for _, track := range s.reader.Tracks() {
		if s.setupTrack(track) {
			break
		}
	}
	if s.track == nil {
		s.fail(fmt.Errorf("%w: no matching track found in mpegts stream", ErrUnsupportedProfile))
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := s.reader.Read(); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				s.log.Debug("mpegts read error", slog.String("error", err.Error()))
			}
			s.fail(err)
			return
		}
	}
}

// setupTrack installs the mediacommon callback for track if it matches the
// requested kind, returning true once a track has been selected.
func (s *MPEGTSSource) setupTrack(track *mpegts.Track) bool {
	switch codec := track.Codec.(type) {
	case *mpegts.CodecH264:
		if s.kind != TrackVideo {
			return false
		}
		s.track = track
		s.format = SourceFormat{MIME: MIMEVideoAVC}
		s.reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			s.handleVideoAU(pts, dts, au, false)
			return nil
		})
		return true

	case *mpegts.CodecH265:
		if s.kind != TrackVideo {
			return false
		}
		s.track = track
		s.format = SourceFormat{MIME: MIMEVideoAVC} // no dedicated HEVC programmer; caller negotiates
		s.reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			s.handleVideoAU(pts, dts, au, true)
			return nil
		})
		return true

	case *mpegts.CodecMPEG4Audio:
		if s.kind != TrackAudio {
			return false
		}
		s.track = track
		s.format = SourceFormat{MIME: MIMEAudioAAC, Channels: codec.Config.ChannelCount, SampleRate: codec.Config.SampleRate}
		s.reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			for _, au := range aus {
				s.push(mpegtsSample{pts: pts, data: au})
			}
			return nil
		})
		return true

	case *mpegts.CodecMPEG1Audio:
		if s.kind != TrackAudio {
			return false
		}
		s.track = track
		s.format = SourceFormat{MIME: MIMEAudioMP3}
		s.reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			for _, frame := range frames {
				s.push(mpegtsSample{pts: pts, data: frame})
			}
			return nil
		})
		return true

	default:
		return false
	}
}

func (s *MPEGTSSource) handleVideoAU(pts, dts int64, au [][]byte, hevc bool) {
	if len(au) == 0 {
		return
	}
	annexB, err := h264.AnnexB(au).Marshal()
	if err != nil || len(annexB) == 0 {
		return
	}
	s.push(mpegtsSample{pts: pts, data: annexB})
}

// push enqueues a sample, dropping the oldest once maxQueue is reached so a
// stalled consumer cannot grow memory without bound.
func (s *MPEGTSSource) push(sample mpegtsSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if len(s.queue) >= s.maxQueue {
		s.queue = s.queue[1:]
	}
	s.queue = append(s.queue, sample)
	s.cond.Signal()
}

func (s *MPEGTSSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.cond.Broadcast()
}

// Read blocks until a sample is available, the source has stopped, or ctx
// is cancelled. cond.Wait only wakes on Signal/Broadcast, so a goroutine
// bridges ctx.Done into a Broadcast for the duration of the call.
func (s *MPEGTSSource) Read(ctx context.Context, opts ReadOptions) (SourceBuffer, SourceStatus, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-done:
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && s.readErr == nil && !s.stopped {
		if ctx.Err() != nil {
			return nil, SourceError, ctx.Err()
		}
		s.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, SourceError, ctx.Err()
	}

	if len(s.queue) > 0 {
		sample := s.queue[0]
		s.queue = s.queue[1:]
		return &mpegtsSourceBuffer{sample: sample}, SourceOK, nil
	}
	if s.readErr != nil && !errors.Is(s.readErr, io.EOF) {
		return nil, SourceError, s.readErr
	}
	return nil, SourceEOS, nil
}

// Stop halts demuxing and releases any goroutines started by Start.
func (s *MPEGTSSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.pipeWriter != nil {
		s.pipeWriter.Close()
	}
	s.wg.Wait()
	return nil
}

// Format returns the negotiated track format discovered during Start, for
// the caller to pass into Core.Configure.
func (s *MPEGTSSource) Format() SourceFormat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

// mpegtsSourceBuffer adapts one demuxed access unit to the SourceBuffer
// interface. It owns its data outright (a copy made by mediacommon's
// Annex B marshal / AU slicing), so Release is a no-op.
type mpegtsSourceBuffer struct {
	sample mpegtsSample
}

func (b *mpegtsSourceBuffer) Data() []byte             { return b.sample.data }
func (b *mpegtsSourceBuffer) RangeOffset() int          { return 0 }
func (b *mpegtsSourceBuffer) RangeLength() int          { return len(b.sample.data) }
func (b *mpegtsSourceBuffer) Time() int64               { return b.sample.pts }
func (b *mpegtsSourceBuffer) TargetTime() (int64, bool) { return 0, false }
func (b *mpegtsSourceBuffer) Release()                  {}
