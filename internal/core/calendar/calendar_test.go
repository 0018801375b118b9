package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genfity/wa-agent-core/internal/models"
)

func TestRefreshIfNeeded_SkipsRefreshWhenFarFromExpiry(t *testing.T) {
	c := NewGoogleClient("client-id", "client-secret", "https://redirect")
	tokens := &models.GoogleTokens{
		AccessToken:   "current-token",
		RefreshToken:  "refresh-token",
		ExpiresAtUnix: time.Now().Add(1 * time.Hour).Unix(),
	}

	got, err := c.refreshIfNeeded(context.Background(), tokens)
	require.NoError(t, err)
	assert.Same(t, tokens, got, "tokens well within their lifetime must be returned unchanged, not refreshed")
}

func TestRefreshIfNeeded_AttemptsRefreshWithinFiveMinutesOfExpiry(t *testing.T) {
	c := NewGoogleClient("client-id", "client-secret", "https://redirect")
	tokens := &models.GoogleTokens{
		AccessToken:   "current-token",
		RefreshToken:  "refresh-token",
		ExpiresAtUnix: time.Now().Add(1 * time.Minute).Unix(),
	}

	_, err := c.refreshIfNeeded(context.Background(), tokens)
	assert.Error(t, err, "with no real refresh-token server reachable, a near-expiry token should attempt and fail the refresh rather than silently pass through")
}
