package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModelProviderFamily(t *testing.T) {
	assert.Equal(t, "openai", modelProviderFamily("gpt-4o"))
	assert.Equal(t, "openai", modelProviderFamily("o1-preview"))
	assert.Equal(t, "openai", modelProviderFamily("o3-mini"))
	assert.Equal(t, "anthropic", modelProviderFamily("claude-3-5-sonnet-latest"))
	assert.Equal(t, "gemini", modelProviderFamily("gemini-1.5-pro"))
	assert.Equal(t, "", modelProviderFamily("unknown-model"))
}

func TestHebrewWeekday(t *testing.T) {
	sunday := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "ראשון", hebrewWeekday(sunday))
	saturday := sunday.AddDate(0, 0, 6)
	assert.Equal(t, "שבת", hebrewWeekday(saturday))
}

func TestAgentLocation_DefaultsToJerusalem(t *testing.T) {
	loc := agentLocation("")
	assert.Equal(t, "Asia/Jerusalem", loc.String())
}

func TestAgentLocation_FallsBackToUTC(t *testing.T) {
	loc := agentLocation("bogus/zone")
	assert.Equal(t, time.UTC, loc)
}
