package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genfity/wa-agent-core/internal/core/whatsapp"
)

func TestLogicalMessageID_UsesProviderIDWhenPresent(t *testing.T) {
	ev := whatsapp.InboundEvent{MessageID: "wamid.123", UserPhone: "15550001111", Text: "hi"}
	assert.Equal(t, "agent-1:wamid.123", logicalMessageID("agent-1", ev))
}

func TestLogicalMessageID_HashesContentWhenIDMissing(t *testing.T) {
	ev := whatsapp.InboundEvent{UserPhone: "15550001111", Text: "hi"}
	key1 := logicalMessageID("agent-1", ev)
	key2 := logicalMessageID("agent-1", ev)
	assert.Equal(t, key1, key2, "the same event must hash to the same key")

	other := whatsapp.InboundEvent{UserPhone: "15550001111", Text: "different text"}
	assert.NotEqual(t, key1, logicalMessageID("agent-1", other))
}

func TestShouldPrune_FiresOnceEveryNCalls(t *testing.T) {
	pruneCounter = 0
	fires := 0
	for i := 0; i < pruneSampleRate*3; i++ {
		if shouldPrune() {
			fires++
		}
	}
	assert.Equal(t, 3, fires)
}

type fakeMediaDownloader struct {
	url       string
	urlErr    error
	raw       []byte
	rawErr    error
}

func (f *fakeMediaDownloader) GetMediaURL(ctx context.Context, mediaID string) (string, error) {
	return f.url, f.urlErr
}

func (f *fakeMediaDownloader) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	return f.raw, f.rawErr
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, raw []byte, mimeType string) (string, error) {
	return f.text, f.err
}

func TestResolveVoice_NoTranscriberConfigured(t *testing.T) {
	d := &Dispatcher{}
	ev := whatsapp.InboundEvent{MediaHandle: "m1"}
	got := d.resolveVoice(context.Background(), &fakeMediaDownloader{}, ev)
	assert.Equal(t, "[voice]: (transcription unavailable)", got)
}

func TestResolveVoice_NoMediaHandle(t *testing.T) {
	d := &Dispatcher{transcriber: &fakeTranscriber{text: "hello"}}
	got := d.resolveVoice(context.Background(), &fakeMediaDownloader{}, whatsapp.InboundEvent{})
	assert.Equal(t, "[voice]: (transcription unavailable)", got)
}

func TestResolveVoice_URLResolutionFails(t *testing.T) {
	d := &Dispatcher{transcriber: &fakeTranscriber{text: "hello"}}
	media := &fakeMediaDownloader{urlErr: errors.New("boom")}
	got := d.resolveVoice(context.Background(), media, whatsapp.InboundEvent{MediaHandle: "m1"})
	assert.Equal(t, "[voice]: (download failed)", got)
}

func TestResolveVoice_DownloadFails(t *testing.T) {
	d := &Dispatcher{transcriber: &fakeTranscriber{text: "hello"}}
	media := &fakeMediaDownloader{url: "https://x", rawErr: errors.New("boom")}
	got := d.resolveVoice(context.Background(), media, whatsapp.InboundEvent{MediaHandle: "m1"})
	assert.Equal(t, "[voice]: (download failed)", got)
}

func TestResolveVoice_TranscriptionFails(t *testing.T) {
	d := &Dispatcher{transcriber: &fakeTranscriber{err: errors.New("boom")}}
	media := &fakeMediaDownloader{url: "https://x", raw: []byte("bytes")}
	got := d.resolveVoice(context.Background(), media, whatsapp.InboundEvent{MediaHandle: "m1"})
	assert.Equal(t, "[voice]: (transcription failed)", got)
}

func TestResolveVoice_Success(t *testing.T) {
	d := &Dispatcher{transcriber: &fakeTranscriber{text: "hello there"}}
	media := &fakeMediaDownloader{url: "https://x", raw: []byte("bytes")}
	got := d.resolveVoice(context.Background(), media, whatsapp.InboundEvent{MediaHandle: "m1"})
	assert.Equal(t, "[voice]: hello there", got)
}

func TestResolveImage_NoMediaHandle(t *testing.T) {
	d := &Dispatcher{}
	text, url := d.resolveImage(context.Background(), &fakeMediaDownloader{}, whatsapp.InboundEvent{})
	assert.Equal(t, "[image — could not download]", text)
	assert.Empty(t, url)
}

func TestResolveImage_URLResolutionFails(t *testing.T) {
	d := &Dispatcher{}
	media := &fakeMediaDownloader{urlErr: errors.New("boom")}
	text, url := d.resolveImage(context.Background(), media, whatsapp.InboundEvent{MediaHandle: "m1"})
	assert.Equal(t, "[image — could not download]", text)
	assert.Empty(t, url)
}

func TestResolveImage_DownloadFailsKeepsURL(t *testing.T) {
	d := &Dispatcher{}
	media := &fakeMediaDownloader{url: "https://x", rawErr: errors.New("boom")}
	text, url := d.resolveImage(context.Background(), media, whatsapp.InboundEvent{MediaHandle: "m1"})
	assert.Equal(t, "[image — could not download]", text)
	assert.Equal(t, "https://x", url, "the resolved URL should still be returned even if the download fails")
}

func TestDispatcher_ResolveAgent_UnknownProvider(t *testing.T) {
	d := &Dispatcher{}
	_, err := d.resolveAgent(context.Background(), whatsapp.InboundEvent{Provider: "carrier-pigeon"})
	require.Error(t, err)
}
