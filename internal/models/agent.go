package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Provider identifies which WhatsApp wire format an Agent speaks.
type Provider string

const (
	ProviderMeta     Provider = "meta"
	ProviderWaSender Provider = "wasender"
)

// Agent is the tenant unit: one WhatsApp business identity with its own
// number, credentials, LLM model, prompts, and config blobs (spec §3).
type Agent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OwnerUserID uuid.UUID `gorm:"type:uuid;index"` // admin user; out of scope, FK not enforced here
	Name      string    `gorm:"type:varchar(200);not null"`
	Provider  Provider  `gorm:"type:varchar(20);not null"`

	// Meta credentials
	MetaPhoneNumberID string `gorm:"type:varchar(64);index"`
	MetaAccessToken   string `gorm:"type:text"`
	MetaVerifyToken   string `gorm:"type:varchar(200)"`
	MetaWABAID        string `gorm:"type:varchar(64)"`

	// WaSender credentials
	WaSenderAPIKey       string `gorm:"type:text"`
	WaSenderSession      string `gorm:"type:varchar(200)"`
	WaSenderWebhookSecret string `gorm:"type:varchar(200)"`

	LLMModel string `gorm:"type:varchar(100);not null"` // tag mapping to a provider, see llm.Factory.Resolve

	APIKeyOverridesJSON datatypes.JSON `gorm:"column:api_key_overrides;type:jsonb"`

	SystemPrompt string `gorm:"type:text"`
	Timezone     string `gorm:"type:varchar(64);not null;default:'Asia/Jerusalem'"`

	BatchingConfigJSON      datatypes.JSON `gorm:"column:batching_config;type:jsonb"`
	CalendarConfigJSON      datatypes.JSON `gorm:"column:calendar_config;type:jsonb"`
	ReminderConfigJSON      datatypes.JSON `gorm:"column:reminder_config;type:jsonb"`
	SummaryConfigJSON       datatypes.JSON `gorm:"column:summary_config;type:jsonb"`
	FollowupConfigJSON      datatypes.JSON `gorm:"column:followup_config;type:jsonb"`
	MediaConfigJSON         datatypes.JSON `gorm:"column:media_config;type:jsonb"`
	ContextSummaryConfigJSON datatypes.JSON `gorm:"column:context_summary_config;type:jsonb"`

	// TokenUsageJSON maps model name -> cumulative usage counters. Mutated
	// atomically via Orchestrator.addTokenUsage (a single SQL UPDATE ... SET
	// token_usage = jsonb_set(...) expression), never read-modify-write in
	// Go, per spec §3 "Usage counters must be mutated atomically."
	TokenUsageJSON datatypes.JSON `gorm:"column:token_usage;type:jsonb"`

	Active bool `gorm:"not null;default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Agent) TableName() string { return "agents" }

// APIKeyOverrides unmarshals the agent's per-provider key overrides.
func (a *Agent) APIKeyOverrides() APIKeyOverrides {
	var out APIKeyOverrides
	if len(a.APIKeyOverridesJSON) == 0 {
		return APIKeyOverrides{}
	}
	_ = json.Unmarshal(a.APIKeyOverridesJSON, &out)
	if out == nil {
		out = APIKeyOverrides{}
	}
	return out
}

// BatchingConfig unmarshals the agent's batching blob, applying defaults
// when unset.
func (a *Agent) BatchingConfig() BatchingConfig {
	var cfg BatchingConfig
	if len(a.BatchingConfigJSON) == 0 || json.Unmarshal(a.BatchingConfigJSON, &cfg) != nil {
		return DefaultBatchingConfig()
	}
	return cfg
}

// SetBatchingConfig replaces the blob wholesale (immutable value write).
func (a *Agent) SetBatchingConfig(cfg BatchingConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.BatchingConfigJSON = raw
	return nil
}

func (a *Agent) CalendarConfig() CalendarConfig {
	var cfg CalendarConfig
	if len(a.CalendarConfigJSON) == 0 {
		return cfg
	}
	_ = json.Unmarshal(a.CalendarConfigJSON, &cfg)
	return cfg
}

func (a *Agent) SetCalendarConfig(cfg CalendarConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.CalendarConfigJSON = raw
	return nil
}

func (a *Agent) ReminderConfig() ReminderConfig {
	var cfg ReminderConfig
	if len(a.ReminderConfigJSON) == 0 {
		return cfg
	}
	_ = json.Unmarshal(a.ReminderConfigJSON, &cfg)
	return cfg
}

func (a *Agent) SetReminderConfig(cfg ReminderConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.ReminderConfigJSON = raw
	return nil
}

func (a *Agent) SummaryConfig() SummaryConfig {
	var cfg SummaryConfig
	if len(a.SummaryConfigJSON) == 0 {
		return cfg
	}
	_ = json.Unmarshal(a.SummaryConfigJSON, &cfg)
	return cfg
}

func (a *Agent) SetSummaryConfig(cfg SummaryConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.SummaryConfigJSON = raw
	return nil
}

func (a *Agent) FollowupConfig() FollowupConfig {
	var cfg FollowupConfig
	if len(a.FollowupConfigJSON) == 0 {
		return cfg
	}
	_ = json.Unmarshal(a.FollowupConfigJSON, &cfg)
	return cfg
}

func (a *Agent) SetFollowupConfig(cfg FollowupConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.FollowupConfigJSON = raw
	return nil
}

func (a *Agent) MediaConfig() MediaConfig {
	cfg := MediaConfig{MaxPerMessage: 3}
	if len(a.MediaConfigJSON) == 0 {
		return cfg
	}
	_ = json.Unmarshal(a.MediaConfigJSON, &cfg)
	return cfg
}

func (a *Agent) SetMediaConfig(cfg MediaConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.MediaConfigJSON = raw
	return nil
}

func (a *Agent) ContextSummaryConfig() ContextSummaryConfig {
	var cfg ContextSummaryConfig
	if len(a.ContextSummaryConfigJSON) == 0 || json.Unmarshal(a.ContextSummaryConfigJSON, &cfg) != nil {
		return DefaultContextSummaryConfig()
	}
	return cfg
}

func (a *Agent) SetContextSummaryConfig(cfg ContextSummaryConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	a.ContextSummaryConfigJSON = raw
	return nil
}

// TokenUsage is one model's cumulative usage counters.
type TokenUsage struct {
	InputTokens        int64 `json:"input_tokens"`
	OutputTokens       int64 `json:"output_tokens"`
	CacheReadTokens    int64 `json:"cache_read_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
}

// TokenUsageByModel unmarshals the usage-by-model map for read paths
// (dashboards); the atomic increment path is Orchestrator.addTokenUsage.
func (a *Agent) TokenUsageByModel() map[string]TokenUsage {
	out := map[string]TokenUsage{}
	if len(a.TokenUsageJSON) == 0 {
		return out
	}
	_ = json.Unmarshal(a.TokenUsageJSON, &out)
	return out
}
