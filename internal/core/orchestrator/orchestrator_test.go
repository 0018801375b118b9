package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsImageMime(t *testing.T) {
	assert.True(t, isImageMime("image/png"))
	assert.True(t, isImageMime("image/jpeg"))
	assert.False(t, isImageMime("video/mp4"))
	assert.False(t, isImageMime("img"))
	assert.False(t, isImageMime(""))
}

func TestIsVideoMime(t *testing.T) {
	assert.True(t, isVideoMime("video/mp4"))
	assert.False(t, isVideoMime("image/png"))
	assert.False(t, isVideoMime("vid"))
}
