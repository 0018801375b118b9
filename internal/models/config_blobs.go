package models

// The config blobs below are the typed, value-semantics replacement for the
// "nested mutable JSON + runtime dirty flag" pattern spec.md §9 flags as a
// redesign target: each blob is an immutable struct, marshalled whole into
// its datatypes.JSON column on every write via Agent.SetXConfig helpers
// (see agent.go), so there is no class of "forgot to mark dirty" bug.

// BatchingConfig controls the per-(agent,user) debounce window (C2).
type BatchingConfig struct {
	DebounceSeconds int `json:"debounce_seconds"`
	MaxBatchMessages int `json:"max_batch_messages"`
}

// DefaultBatchingConfig applies when an agent has no usable batching blob:
// an 8 s debounce and at most 10 messages per batch.
func DefaultBatchingConfig() BatchingConfig {
	return BatchingConfig{DebounceSeconds: 8, MaxBatchMessages: 10}
}

// WorkingHours is one weekday's open/close window in "HH:MM" local time.
type WorkingHours struct {
	Weekday int    `json:"weekday"` // 0=Sunday .. 6=Saturday
	Open    string `json:"open"`
	Close   string `json:"close"`
	Closed  bool   `json:"closed"`
}

// CalendarConfig describes appointment booking behaviour (C3/C5/C8).
type CalendarConfig struct {
	Enabled             bool           `json:"enabled"`
	Provider            string         `json:"provider"` // "google", "" (none)
	WorkingHours        []WorkingHours `json:"working_hours"`
	AppointmentInstruction string      `json:"appointment_instruction"`
	GoogleTokens        *GoogleTokens  `json:"google_tokens,omitempty"`
	CalendarID          string         `json:"calendar_id"`
	// AppointmentWebhookURL, if set, receives the created/cancelled/updated
	// notification described in spec §6. Empty means the integration is
	// disabled for this agent.
	AppointmentWebhookURL string `json:"appointment_webhook_url,omitempty"`
}

// GoogleTokens is the persisted OAuth token state for the external calendar
// (spec §6): "Token state persisted in agent.calendar_config.google_tokens;
// refresh-on-use with <=5 min pre-expiry."
type GoogleTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAtUnix int64 `json:"expires_at_unix"`
}

// ReminderRule is one entry in the reminder schedule (C8).
type ReminderRule struct {
	MinutesBefore int    `json:"minutes_before"`
	ContentType   string `json:"content_type"` // "template" | "ai"
	Template      string `json:"template,omitempty"`
	AIPrompt      string `json:"ai_prompt,omitempty"`
}

// ReminderConfig is the agent's reminder schedule.
type ReminderConfig struct {
	Enabled bool           `json:"enabled"`
	Rules   []ReminderRule `json:"rules"`
}

// SummaryConfig controls the webhook summary engine (C9).
type SummaryConfig struct {
	Enabled           bool   `json:"enabled"`
	DelayMinutes      int    `json:"delay_minutes"`
	MinMessages       int    `json:"min_messages"`
	MaxMessages       int    `json:"max_messages"`
	WebhookURL        string `json:"webhook_url"`
	WebhookRetryCount int    `json:"webhook_retry_count"`
	WebhookRetryDelaySeconds int `json:"webhook_retry_delay_seconds"`
}

// ActiveHours is the local-time window follow-ups may send in; supports
// cross-midnight windows (spec §4.10, "10:00-04:00").
type ActiveHours struct {
	Start string `json:"start"` // "HH:MM"
	End   string `json:"end"`   // "HH:MM"
}

// FollowupStep is one entry in the follow-up sequence.
type FollowupStep struct {
	DelayHours  float64 `json:"delay_hours"`
	Instruction string  `json:"instruction"`
}

// MetaTemplateRef names an approved template + how to fill it for a
// beyond-24h follow-up send.
type MetaTemplateRef struct {
	Name     string   `json:"name"`
	Language string   `json:"language"`
	Params   []string `json:"params"`
}

// FollowupConfig is the agent's re-engagement sequence (C10).
type FollowupConfig struct {
	Enabled       bool              `json:"enabled"`
	Model         string            `json:"model"`
	MinMessages   int               `json:"min_messages"`
	ActiveHours   ActiveHours       `json:"active_hours"`
	Sequence      []FollowupStep    `json:"sequence"`
	MetaTemplates []MetaTemplateRef `json:"meta_templates,omitempty"`
}

// MediaConfig bounds how many media items an assistant turn may send.
type MediaConfig struct {
	MaxPerMessage                int  `json:"max_per_message"`
	AllowDuplicateInConversation bool `json:"allow_duplicate_in_conversation"`
}

// ContextSummaryConfig controls the rolling long-term memory engine (C6).
type ContextSummaryConfig struct {
	Enabled              bool `json:"enabled"`
	MessageThreshold     int  `json:"message_threshold"`
	MessagesAfterSummary int  `json:"messages_after_summary"`
	FullSummaryEvery     int  `json:"full_summary_every"`
	MaxHistoryMessages   int  `json:"max_history_messages"`
}

// DefaultContextSummaryConfig matches spec §4.6 defaults.
func DefaultContextSummaryConfig() ContextSummaryConfig {
	return ContextSummaryConfig{
		Enabled:              true,
		MessageThreshold:     30,
		MessagesAfterSummary: 10,
		FullSummaryEvery:     5,
		MaxHistoryMessages:   20,
	}
}

// APIKeyOverrides holds per-agent LLM API key overrides keyed by provider
// name ("openai", "anthropic", "gemini").
type APIKeyOverrides map[string]string
