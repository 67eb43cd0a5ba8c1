package codecadapter

import (
	"context"
	"fmt"
)

// MIME type constants the bundled Configuration Programmers recognize.
const (
	MIMEAudioMP3   = "audio/mpeg"
	MIMEAudioAAC   = "audio/mp4a-latm"
	MIMEAudioAMRNB = "audio/3gpp"
	MIMEAudioAMRWB = "audio/amr-wb"
	MIMEVideoAVC   = "video/avc"
	MIMEVideoMPEG4 = "video/mp4v-es"
	MIMEVideoH263  = "video/3gpp"
)

// Parameter indices the bundled programmers issue set_parameter calls
// against. The concrete numbering is backend-defined; these are symbolic
// placeholders a real backend binding would map to its own constants.
const (
	ParamPortDefinition = iota
	ParamVideoBitrate
	ParamVideoProfileLevel
	ParamAudioMP3
	ParamAudioAAC
	ParamAudioAMR
)

// Programmer translates per-MIME source metadata into backend
// set_parameter/set_config calls at configure time and returns the
// codec-specific-data blobs (if any) that must be injected before payload.
// Implementations are intentionally mechanical; this module only
// guarantees they run.
type Programmer interface {
	// Program configures the backend for meta and returns ordered CSD
	// blobs to enqueue.
	Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error)

	// ProbeOutputFormat re-derives the observable output format from the
	// backend's current port parameters, used for format-change detection
	// after a port reconfiguration.
	ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error)
}

// Registry maps a MIME type to the Programmer responsible for it.
type Registry map[string]Programmer

// DefaultRegistry returns a Registry with the bundled format-specific
// programmers wired in.
func DefaultRegistry() Registry {
	return Registry{
		MIMEAudioMP3:   MP3Programmer{},
		MIMEAudioAAC:   AACProgrammer{},
		MIMEAudioAMRNB: AMRProgrammer{},
		MIMEAudioAMRWB: AMRProgrammer{},
		MIMEVideoAVC:   AVCProgrammer{},
		MIMEVideoMPEG4: MPEG4Programmer{},
		MIMEVideoH263:  H263Programmer{},
	}
}

// Program dispatches to the Programmer registered for meta.MIME.
func (r Registry) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	p, ok := r[meta.MIME]
	if !ok {
		return nil, fmt.Errorf("%w: no configuration programmer for %q", ErrUnsupportedProfile, meta.MIME)
	}
	return p.Program(ctx, be, meta)
}

// Lookup returns the Programmer registered for mime, the same one Core
// should be constructed with so its later ProbeOutputFormat calls agree
// with the format Program configured.
func (r Registry) Lookup(mime string) (Programmer, bool) {
	p, ok := r[mime]
	return p, ok
}

// AVCProgrammer configures an AVC (H.264) backend: profile/level and
// bitrate parameters, plus SPS/PPS extraction grounded on
// ParseAVCDecoderConfigurationRecord and the NAL-parameter-set handling in
// internal/relay/video_params.go.
type AVCProgrammer struct{ ConfigRecord []byte }

func (p AVCProgrammer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	if err := be.SetParameter(ctx, ParamVideoProfileLevel, meta); err != nil {
		return nil, fmt.Errorf("%w: avc profile/level: %v", ErrParameterRejected, err)
	}
	if meta.Bitrate > 0 {
		if err := be.SetParameter(ctx, ParamVideoBitrate, meta.Bitrate); err != nil {
			return nil, fmt.Errorf("%w: avc bitrate: %v", ErrParameterRejected, err)
		}
	}
	if len(p.ConfigRecord) == 0 {
		return nil, nil
	}
	sps, pps, err := ParseAVCDecoderConfigurationRecord(p.ConfigRecord)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProfile, err)
	}
	blobs := make([][]byte, 0, len(sps)+len(pps))
	blobs = append(blobs, sps...)
	blobs = append(blobs, pps...)
	return blobs, nil
}

// ProbeOutputFormat asks the backend for the current port definition and,
// when this programmer was configured with an AVCDecoderConfigurationRecord,
// cross-checks width/height against the SPS using mediacommon's H.264
// parameter-set parser (container-level box walking -
// ParseAVCDecoderConfigurationRecord - stays hand-rolled since mediacommon
// operates on codec bitstreams, not ISOBMFF boxes; see DESIGN.md).
func (p AVCProgrammer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	var f SourceFormat
	f.MIME = MIMEVideoAVC
	if err := be.GetParameter(ctx, ParamPortDefinition, &f); err != nil {
		return SourceFormat{}, err
	}
	if len(p.ConfigRecord) > 0 {
		if sps, _, err := ParseAVCDecoderConfigurationRecord(p.ConfigRecord); err == nil && len(sps) > 0 {
			if w, h, err := spsDimensions(sps[0]); err == nil {
				f.Width, f.Height = w, h
			}
		}
	}
	return f, nil
}

// MPEG4Programmer configures an MPEG-4 Part 2 video backend;
// ESDSCodecSpecificInfo, when set, is returned verbatim as the single CSD
// blob. MPEG-4 audio is handled by AACProgrammer, not here.
type MPEG4Programmer struct{ ESDSCodecSpecificInfo []byte }

func (p MPEG4Programmer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	if err := be.SetParameter(ctx, ParamVideoProfileLevel, meta); err != nil {
		return nil, fmt.Errorf("%w: mpeg4 profile/level: %v", ErrParameterRejected, err)
	}
	if len(p.ESDSCodecSpecificInfo) == 0 {
		return nil, nil
	}
	return [][]byte{p.ESDSCodecSpecificInfo}, nil
}

func (p MPEG4Programmer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	var f SourceFormat
	f.MIME = MIMEVideoMPEG4
	if err := be.GetParameter(ctx, ParamPortDefinition, &f); err != nil {
		return SourceFormat{}, err
	}
	return f, nil
}

// H263Programmer configures an H.263 backend. H.263 carries no separate
// parameter-set blobs, so Program never returns CSD.
type H263Programmer struct{}

func (p H263Programmer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	if err := be.SetParameter(ctx, ParamVideoProfileLevel, meta); err != nil {
		return nil, fmt.Errorf("%w: h263 profile/level: %v", ErrParameterRejected, err)
	}
	return nil, nil
}

func (p H263Programmer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	var f SourceFormat
	f.MIME = MIMEVideoH263
	if err := be.GetParameter(ctx, ParamPortDefinition, &f); err != nil {
		return SourceFormat{}, err
	}
	return f, nil
}

// AACProgrammer configures an AAC backend using channel count, sample
// rate, and profile; AudioSpecificConfig CSD is supplied via the
// AudioSpecificConfig field when the source carries ESDS (e.g. fMP4/TS ADTS
// already strips it, in which case it is left empty).
type AACProgrammer struct{ AudioSpecificConfig []byte }

func (p AACProgrammer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	if err := be.SetParameter(ctx, ParamAudioAAC, meta); err != nil {
		return nil, fmt.Errorf("%w: aac params: %v", ErrParameterRejected, err)
	}
	if len(p.AudioSpecificConfig) == 0 {
		return nil, nil
	}
	return [][]byte{p.AudioSpecificConfig}, nil
}

// ProbeOutputFormat asks the backend for the current port definition and,
// when an AudioSpecificConfig is on hand, cross-checks channel count and
// sample rate using mediacommon's MPEG-4 audio config parser rather than
// hand-decoding the bitstream.
func (p AACProgrammer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	var f SourceFormat
	f.MIME = MIMEAudioAAC
	if err := be.GetParameter(ctx, ParamPortDefinition, &f); err != nil {
		return SourceFormat{}, err
	}
	if len(p.AudioSpecificConfig) > 0 {
		if ch, rate, err := audioSpecificConfigParams(p.AudioSpecificConfig); err == nil {
			f.Channels, f.SampleRate = ch, rate
		}
	}
	return f, nil
}

// MP3Programmer configures an MP3 backend using channel count and sample
// rate; MP3 carries no separate codec-configuration blob.
type MP3Programmer struct{}

func (p MP3Programmer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	if err := be.SetParameter(ctx, ParamAudioMP3, meta); err != nil {
		return nil, fmt.Errorf("%w: mp3 params: %v", ErrParameterRejected, err)
	}
	return nil, nil
}

func (p MP3Programmer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	var f SourceFormat
	f.MIME = MIMEAudioMP3
	if err := be.GetParameter(ctx, ParamPortDefinition, &f); err != nil {
		return SourceFormat{}, err
	}
	return f, nil
}

// AMRProgrammer configures an AMR-NB/WB backend using the mode set and
// sample rate; AMR carries no separate codec-configuration blob.
type AMRProgrammer struct{ WideBand bool }

func (p AMRProgrammer) Program(ctx context.Context, be Backend, meta SourceFormat) ([][]byte, error) {
	if err := be.SetParameter(ctx, ParamAudioAMR, meta); err != nil {
		return nil, fmt.Errorf("%w: amr params: %v", ErrParameterRejected, err)
	}
	return nil, nil
}

func (p AMRProgrammer) ProbeOutputFormat(ctx context.Context, be Backend) (SourceFormat, error) {
	var f SourceFormat
	if p.WideBand {
		f.MIME = MIMEAudioAMRWB
	} else {
		f.MIME = MIMEAudioAMRNB
	}
	if err := be.GetParameter(ctx, ParamPortDefinition, &f); err != nil {
		return SourceFormat{}, err
	}
	return f, nil
}
