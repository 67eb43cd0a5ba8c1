package codecadapter

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// audioSpecificConfigParams decodes channel count and sample rate out of
// a raw MPEG-4 AudioSpecificConfig blob using mediacommon's parser.
func audioSpecificConfigParams(asc []byte) (channels, sampleRate int, err error) {
	var cfg mpeg4audio.Config
	if err := cfg.Unmarshal(asc); err != nil {
		return 0, 0, fmt.Errorf("parse AudioSpecificConfig: %w", err)
	}
	return cfg.ChannelCount, cfg.SampleRate, nil
}

// ESDS descriptor tags relevant to extracting the AudioSpecificConfig
// codec-specific-info blob, per ISO/IEC 14496-1.
const (
	esdsTagESDescriptor        = 0x03
	esdsTagDecoderConfig       = 0x04
	esdsTagDecoderSpecificInfo = 0x05
)

// ParseESDSCodecSpecificInfo walks an MPEG-4 ESDS box payload and returns
// the DecoderSpecificInfo bytes (AudioSpecificConfig for AAC). This is the
// other bitstream-parsing exception this module takes on beyond AVC
// SPS/PPS extraction.
func ParseESDSCodecSpecificInfo(esds []byte) ([]byte, error) {
	pos := 0
	for pos < len(esds) {
		tag := esds[pos]
		pos++
		length, next, err := readESDSLength(esds, pos)
		if err != nil {
			return nil, err
		}
		pos = next
		if pos+length > len(esds) {
			return nil, fmt.Errorf("esds: truncated descriptor (tag 0x%02x, want %d bytes)", tag, length)
		}
		body := esds[pos : pos+length]

		switch tag {
		case esdsTagESDescriptor:
			// ES_ID(2) + flags(1) [+ dependsOn/URL fields we don't need]
			if len(body) < 3 {
				return nil, fmt.Errorf("esds: ES descriptor too short")
			}
			// Recurse into the remainder looking for DecoderConfigDescriptor.
			return ParseESDSCodecSpecificInfo(body[3:])
		case esdsTagDecoderConfig:
			// objectTypeIndication(1) + streamType/flags(1) + bufferSizeDB(3)
			// + maxBitrate(4) + avgBitrate(4), then nested descriptors.
			if len(body) < 13 {
				return nil, fmt.Errorf("esds: decoder config descriptor too short")
			}
			return ParseESDSCodecSpecificInfo(body[13:])
		case esdsTagDecoderSpecificInfo:
			out := make([]byte, len(body))
			copy(out, body)
			return out, nil
		}
		pos += length
	}
	return nil, fmt.Errorf("esds: no DecoderSpecificInfo descriptor found")
}

// readESDSLength decodes the variable-length size field used throughout
// MPEG-4 descriptors (high bit = continuation).
func readESDSLength(buf []byte, pos int) (length, next int, err error) {
	for i := 0; i < 4; i++ {
		if pos >= len(buf) {
			return 0, 0, fmt.Errorf("esds: truncated length field")
		}
		b := buf[pos]
		pos++
		length = (length << 7) | int(b&0x7F)
		if b&0x80 == 0 {
			return length, pos, nil
		}
	}
	return 0, 0, fmt.Errorf("esds: length field exceeds 4 bytes")
}
