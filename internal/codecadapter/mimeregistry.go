package codecadapter

import "strings"

// codecAliases maps alternate spellings of a codec name (ffmpeg encoder
// names, HLS codec strings, MPEG-TS probe hints) to the MIME type this
// package's Programmer implementations key on. Mirrors the
// alias-to-canonical-name registry pattern used for demuxer/encoder
// lookups elsewhere in this codebase, narrowed to the codecs this
// component actually programs.
var codecAliases = map[string]string{
	"h264":       MIMEVideoAVC,
	"avc":        MIMEVideoAVC,
	"avc1":       MIMEVideoAVC,
	"libx264":    MIMEVideoAVC,
	"h264_vaapi": MIMEVideoAVC,

	"mpeg4":        MIMEVideoMPEG4,
	"mpeg4video":   MIMEVideoMPEG4,
	"mp4v":         MIMEVideoMPEG4,
	"mp4v-es":      MIMEVideoMPEG4,
	"xvid":         MIMEVideoMPEG4,
	"libxvidcore":  MIMEVideoMPEG4,

	"h263":     MIMEVideoH263,
	"h263p":    MIMEVideoH263,
	"s263":     MIMEVideoH263,

	"aac":         MIMEAudioAAC,
	"mp4a":        MIMEAudioAAC,
	"libfdk_aac":  MIMEAudioAAC,
	"aac_at":      MIMEAudioAAC,

	"mp3":          MIMEAudioMP3,
	"mp3float":     MIMEAudioMP3,
	"libmp3lame":   MIMEAudioMP3,
	"mpeg1audio":   MIMEAudioMP3,

	"amrnb":   MIMEAudioAMRNB,
	"amr_nb":  MIMEAudioAMRNB,
	"samr":    MIMEAudioAMRNB,

	"amrwb":  MIMEAudioAMRWB,
	"amr_wb": MIMEAudioAMRWB,
	"sawb":   MIMEAudioAMRWB,
}

// ResolveMIME normalizes a codec name (an ffmpeg codec/encoder name, an
// HLS codec string such as "avc1.64001f", or a probe hint) to the MIME
// type used by this package's Programmer and Registry. The second
// return value is false when the codec has no known Programmer.
func ResolveMIME(name string) (string, bool) {
	normalized := normalizeCodecName(name)
	mime, ok := codecAliases[normalized]
	return mime, ok
}

// normalizeCodecName lowercases and strips an HLS-style dotted profile
// suffix ("avc1.64001f" -> "avc1"), as found in RFC 6381 codec strings.
func normalizeCodecName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if idx := strings.Index(name, "."); idx >= 0 {
		name = name[:idx]
	}
	return name
}
