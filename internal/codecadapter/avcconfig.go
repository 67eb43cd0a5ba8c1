package codecadapter

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

// spsDimensions decodes width/height out of a raw SPS NAL unit using
// mediacommon's H.264 parameter-set parser, rather than hand-rolling
// Exp-Golomb decoding ourselves.
func spsDimensions(sps []byte) (width, height int, err error) {
	var parsed h264.SPS
	if err := parsed.Unmarshal(sps); err != nil {
		return 0, 0, fmt.Errorf("parse sps: %w", err)
	}
	return parsed.Width(), parsed.Height(), nil
}

// ParseAVCDecoderConfigurationRecord extracts the SPS and PPS NAL units,
// in order, from an ISO/IEC 14496-15 AVCDecoderConfigurationRecord (the
// box mp4/fMP4 carries as 'avcC'). This is the exclusive bitstream parsing
// this module performs beyond extracting codec-configuration blobs. The
// parameter-set layout mirrors mediacommon's h264 SPS/PPS handling and
// this application's own NAL-type tables in internal/relay/video_params.go.
func ParseAVCDecoderConfigurationRecord(record []byte) (sps, pps [][]byte, err error) {
	if len(record) < 6 {
		return nil, nil, fmt.Errorf("avcC record too short: %d bytes", len(record))
	}
	// record[0] = configurationVersion, [1]=profile, [2]=compat, [3]=level
	// record[4] low 2 bits = lengthSizeMinusOne (unused here, we only
	// extract the parameter sets, not re-encode length-prefixed NALs).
	numSPS := int(record[5] & 0x1F)
	pos := 6

	for i := 0; i < numSPS; i++ {
		unit, next, err := readLengthPrefixed(record, pos)
		if err != nil {
			return nil, nil, fmt.Errorf("sps[%d]: %w", i, err)
		}
		sps = append(sps, unit)
		pos = next
	}

	if pos >= len(record) {
		return nil, nil, fmt.Errorf("avcC record truncated before PPS count")
	}
	numPPS := int(record[pos])
	pos++

	for i := 0; i < numPPS; i++ {
		unit, next, err := readLengthPrefixed(record, pos)
		if err != nil {
			return nil, nil, fmt.Errorf("pps[%d]: %w", i, err)
		}
		pps = append(pps, unit)
		pos = next
	}

	return sps, pps, nil
}

func readLengthPrefixed(buf []byte, pos int) (unit []byte, next int, err error) {
	if pos+2 > len(buf) {
		return nil, 0, fmt.Errorf("truncated length prefix at offset %d", pos)
	}
	length := int(buf[pos])<<8 | int(buf[pos+1])
	pos += 2
	if pos+length > len(buf) {
		return nil, 0, fmt.Errorf("truncated unit at offset %d (want %d bytes)", pos, length)
	}
	unit = make([]byte, length)
	copy(unit, buf[pos:pos+length])
	return unit, pos + length, nil
}
