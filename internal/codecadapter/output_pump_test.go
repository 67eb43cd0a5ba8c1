package codecadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsObservableFormatChange(t *testing.T) {
	base := SourceFormat{MIME: MIMEVideoAVC, Width: 1920, Height: 1080}

	assert.False(t, isObservableFormatChange(base, base))
	assert.True(t, isObservableFormatChange(base, SourceFormat{MIME: MIMEVideoMPEG4, Width: 1920, Height: 1080}))
	assert.True(t, isObservableFormatChange(base, SourceFormat{MIME: MIMEVideoAVC, Width: 1280, Height: 720}))

	audioBase := SourceFormat{MIME: MIMEAudioAAC, Channels: 2, SampleRate: 48000}
	assert.True(t, isObservableFormatChange(audioBase, SourceFormat{MIME: MIMEAudioAAC, Channels: 1, SampleRate: 48000}))
	assert.False(t, isObservableFormatChange(audioBase, audioBase))
}

func TestFillOutputBuffers_SkipsBuffersAlreadyOwnedByComponent(t *testing.T) {
	be := &recordingBackend{}
	c := New(be, &fakeSource{}, Quirks{}, &fakeProgrammer{}, nil)
	c.output.Buffers = []*BufferRecord{
		{Handle: 1, OwnedByComponent: false},
		{Handle: 2, OwnedByComponent: true},
		{Handle: 3, OwnedByComponent: false},
	}

	c.mu.Lock()
	c.fillOutputBuffers(context.Background())
	c.mu.Unlock()

	require.Len(t, be.fillCalls, 2)
	assert.ElementsMatch(t, []BufferHandle{1, 3}, be.fillCalls)
	for _, b := range c.output.Buffers {
		assert.True(t, b.OwnedByComponent)
	}
}

func TestMaybeShortcutEOS_FiresOnlyWhenBothPortsAreOurs(t *testing.T) {
	be := &recordingBackend{}
	c := New(be, &fakeSource{}, Quirks{}, &fakeProgrammer{}, nil)
	c.signalledEOS = true
	c.input.Buffers = []*BufferRecord{{Handle: 1, OwnedByComponent: true}}
	c.output.Buffers = []*BufferRecord{{Handle: 2, OwnedByComponent: false}}

	c.mu.Lock()
	c.maybeShortcutEOS()
	c.mu.Unlock()
	assert.False(t, c.noMoreOutputData, "must not shortcut while the component still owns an input buffer")

	c.input.Buffers[0].OwnedByComponent = false
	c.mu.Lock()
	c.maybeShortcutEOS()
	c.mu.Unlock()
	assert.True(t, c.noMoreOutputData)
}

func TestMaybeShortcutEOS_SuppressedInThumbnailMode(t *testing.T) {
	be := &recordingBackend{}
	c := New(be, &fakeSource{}, Quirks{ThumbnailMode: true}, &fakeProgrammer{}, nil)
	c.signalledEOS = true
	c.input.Buffers = []*BufferRecord{{Handle: 1, OwnedByComponent: false}}
	c.output.Buffers = []*BufferRecord{{Handle: 2, OwnedByComponent: false}}

	c.mu.Lock()
	c.maybeShortcutEOS()
	c.mu.Unlock()

	assert.False(t, c.noMoreOutputData)
}

func TestRefreshOutputFormat_FlagsChangeOnlyWhenObservablePortionDiffers(t *testing.T) {
	prog := &fakeProgrammer{format: SourceFormat{MIME: MIMEVideoAVC, Width: 640, Height: 480}}
	be := &recordingBackend{}
	c := New(be, &fakeSource{}, Quirks{}, prog, nil)
	c.format = SourceFormat{MIME: MIMEVideoAVC, Width: 640, Height: 480}

	c.mu.Lock()
	require.NoError(t, c.refreshOutputFormat(context.Background()))
	c.mu.Unlock()
	assert.False(t, c.outputFormatChanged)

	prog.format = SourceFormat{MIME: MIMEVideoAVC, Width: 1920, Height: 1080}
	c.mu.Lock()
	require.NoError(t, c.refreshOutputFormat(context.Background()))
	c.mu.Unlock()
	assert.True(t, c.outputFormatChanged)
	assert.Equal(t, 1920, c.format.Width)
}
