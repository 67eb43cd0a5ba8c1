package codecadapter

import (
	"context"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
)

// ProbeMPEGTSFormat reads just far enough into an MPEG transport stream to
// recover the PMT and derive a MIME hint for the Configuration Programmer
// registry, before any payload buffer has been pulled from the upstream
// source. It never substitutes for the Source interface; callers run it
// once against a seekable stream, then rewind before handing the stream to
// a Source and calling Core.Configure.
func ProbeMPEGTSFormat(ctx context.Context, r io.Reader) (SourceFormat, error) {
	dmx := astits.NewDemuxer(ctx, r)

	for {
		data, err := dmx.NextData()
		if err != nil {
			if err == astits.ErrNoMorePackets || err == io.EOF {
				return SourceFormat{}, fmt.Errorf("mpegts probe: stream ended before PMT")
			}
			return SourceFormat{}, fmt.Errorf("mpegts probe: %w", err)
		}
		if data.PMT == nil {
			continue
		}
		for _, es := range data.PMT.ElementaryStreams {
			if mime, ok := mimeForStreamType(es.StreamType); ok {
				return SourceFormat{MIME: mime}, nil
			}
		}
		return SourceFormat{}, fmt.Errorf("mpegts probe: PMT had no recognizable elementary stream")
	}
}

func mimeForStreamType(t astits.StreamType) (string, bool) {
	switch t {
	case astits.StreamTypeH264Video:
		return MIMEVideoAVC, true
	case astits.StreamTypeMPEG4Video:
		return MIMEVideoMPEG4, true
	case astits.StreamTypeAACAudio:
		return MIMEAudioAAC, true
	case astits.StreamTypeMPEG1Audio:
		return MIMEAudioMP3, true
	default:
		return "", false
	}
}
