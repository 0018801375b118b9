package whatsapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetaClient_BaseURL(t *testing.T) {
	c := NewMetaClient("1000", "token")
	assert.Equal(t, "https://graph.facebook.com/v22.0/1000/messages", c.baseURL())
}

func TestMetaClient_MediaPayload_UsesIDOverURLWhenBothPresent(t *testing.T) {
	c := NewMetaClient("1000", "token")
	payload := c.mediaPayload("15550001111", "image", "media-id", "https://example.com/x.png", "a caption")

	img, ok := payload["image"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "media-id", img["id"])
	assert.NotContains(t, img, "link")
	assert.Equal(t, "a caption", img["caption"])
	assert.Equal(t, "image", payload["type"])
}

func TestMetaClient_MediaPayload_FallsBackToLinkWhenNoID(t *testing.T) {
	c := NewMetaClient("1000", "token")
	payload := c.mediaPayload("15550001111", "video", "", "https://example.com/x.mp4", "")

	vid, ok := payload["video"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/x.mp4", vid["link"])
	assert.NotContains(t, vid, "caption")
}

func TestWaSenderClient_SendTemplate_AlwaysErrors(t *testing.T) {
	c := NewWaSenderClient("key", "session")
	err := c.SendTemplate(context.Background(), "15550001111", "tmpl", "en_US", []string{"a"})
	assert.Error(t, err, "WaSender has no approved-template concept so this must always fail rather than silently degrade")
}
