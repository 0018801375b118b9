package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgent_BatchingConfig_DefaultsWhenUnset(t *testing.T) {
	a := &Agent{}
	assert.Equal(t, DefaultBatchingConfig(), a.BatchingConfig())
}

func TestAgent_BatchingConfig_RoundTrip(t *testing.T) {
	a := &Agent{}
	cfg := BatchingConfig{DebounceSeconds: 3, MaxBatchMessages: 5}
	assert.NoError(t, a.SetBatchingConfig(cfg))
	assert.Equal(t, cfg, a.BatchingConfig())
}

func TestAgent_BatchingConfig_DefaultsOnCorruptJSON(t *testing.T) {
	a := &Agent{BatchingConfigJSON: []byte("not json")}
	assert.Equal(t, DefaultBatchingConfig(), a.BatchingConfig())
}

func TestAgent_CalendarConfig_RoundTrip(t *testing.T) {
	a := &Agent{}
	cfg := CalendarConfig{
		Enabled:               true,
		Provider:              "google",
		AppointmentWebhookURL: "https://example.test/hook",
		GoogleTokens: &GoogleTokens{
			AccessToken:   "tok",
			RefreshToken:  "refresh",
			ExpiresAtUnix: 1234,
		},
	}
	assert.NoError(t, a.SetCalendarConfig(cfg))
	got := a.CalendarConfig()
	assert.Equal(t, cfg, got)
}

func TestAgent_ReminderConfig_RoundTrip(t *testing.T) {
	a := &Agent{}
	cfg := ReminderConfig{
		Enabled: true,
		Rules: []ReminderRule{
			{MinutesBefore: 60, ContentType: "template", Template: "See you in {duration}"},
			{MinutesBefore: 1440, ContentType: "ai", AIPrompt: "remind about {title}"},
		},
	}
	assert.NoError(t, a.SetReminderConfig(cfg))
	assert.Equal(t, cfg, a.ReminderConfig())
}

func TestAgent_FollowupConfig_RoundTrip(t *testing.T) {
	a := &Agent{}
	cfg := FollowupConfig{
		Enabled:     true,
		MinMessages: 2,
		ActiveHours: ActiveHours{Start: "10:00", End: "04:00"},
		Sequence: []FollowupStep{
			{DelayHours: 24, Instruction: "check in"},
		},
	}
	assert.NoError(t, a.SetFollowupConfig(cfg))
	assert.Equal(t, cfg, a.FollowupConfig())
}

func TestAgent_MediaConfig_DefaultsMaxPerMessage(t *testing.T) {
	a := &Agent{}
	cfg := a.MediaConfig()
	assert.Equal(t, 3, cfg.MaxPerMessage)
}

func TestAgent_ContextSummaryConfig_DefaultsWhenUnset(t *testing.T) {
	a := &Agent{}
	assert.Equal(t, DefaultContextSummaryConfig(), a.ContextSummaryConfig())
}

func TestAgent_ContextSummaryConfig_RoundTrip(t *testing.T) {
	a := &Agent{}
	cfg := ContextSummaryConfig{
		Enabled:              true,
		MessageThreshold:     15,
		MessagesAfterSummary: 5,
		FullSummaryEvery:     3,
		MaxHistoryMessages:   10,
	}
	assert.NoError(t, a.SetContextSummaryConfig(cfg))
	assert.Equal(t, cfg, a.ContextSummaryConfig())
}

func TestAgent_APIKeyOverrides_EmptyWhenUnset(t *testing.T) {
	a := &Agent{}
	assert.Equal(t, APIKeyOverrides{}, a.APIKeyOverrides())
}

func TestAgent_TokenUsageByModel_EmptyWhenUnset(t *testing.T) {
	a := &Agent{}
	assert.Empty(t, a.TokenUsageByModel())
}
