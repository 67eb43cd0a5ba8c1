package codecadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_LooksUpBundledProgrammers(t *testing.T) {
	r := DefaultRegistry()

	for _, mime := range []string{MIMEAudioMP3, MIMEAudioAAC, MIMEAudioAMRNB, MIMEAudioAMRWB, MIMEVideoAVC, MIMEVideoMPEG4, MIMEVideoH263} {
		p, ok := r.Lookup(mime)
		require.True(t, ok, "expected a programmer for %s", mime)
		assert.NotNil(t, p)
	}

	_, ok := r.Lookup("audio/unknown")
	assert.False(t, ok)
}

func TestRegistry_ProgramDispatchesByMIME(t *testing.T) {
	r := DefaultRegistry()
	be := &recordingBackend{}

	blobs, err := r.Program(context.Background(), be, SourceFormat{MIME: MIMEAudioMP3})
	require.NoError(t, err)
	assert.Nil(t, blobs)

	_, err = r.Program(context.Background(), be, SourceFormat{MIME: "nope"})
	assert.ErrorIs(t, err, ErrUnsupportedProfile)
}

func TestAVCProgrammer_ProgramExtractsSPSAndPPSAsCSD(t *testing.T) {
	record := []byte{
		1, 100, 0, 40, 0xFF,
		0xE1,
		0x00, 0x03, 'A', 'B', 'C',
		0x01,
		0x00, 0x02, 'D', 'E',
	}
	p := AVCProgrammer{ConfigRecord: record}
	be := &recordingBackend{}

	blobs, err := p.Program(context.Background(), be, SourceFormat{MIME: MIMEVideoAVC})
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "ABC", string(blobs[0]))
	assert.Equal(t, "DE", string(blobs[1]))
}

func TestAVCProgrammer_ProgramWithoutConfigRecordReturnsNoCSD(t *testing.T) {
	p := AVCProgrammer{}
	be := &recordingBackend{}

	blobs, err := p.Program(context.Background(), be, SourceFormat{MIME: MIMEVideoAVC})
	require.NoError(t, err)
	assert.Nil(t, blobs)
}

func TestMP3Programmer_ProbeOutputFormatReportsMIME(t *testing.T) {
	p := MP3Programmer{}
	be := &recordingBackend{}

	f, err := p.ProbeOutputFormat(context.Background(), be)
	require.NoError(t, err)
	assert.Equal(t, MIMEAudioMP3, f.MIME)
}
