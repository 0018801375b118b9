// Package config loads process-wide configuration from the environment,
// following the teacher's internal/shared/config/config.go: a flat struct,
// godotenv for local development, defaulting applied once at load time.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// Config holds everything the core needs to boot: database, Redis, LLM
// provider API keys (pool defaults — per-agent overrides live in the Agent
// row itself), and scheduler tuning.
type Config struct {
	Env         string
	Port        string
	DatabaseURL string
	RedisURL    string

	OpenAIKeys   []string
	AnthropicKeys []string
	GeminiKeys   []string

	SchedulerCheckInterval time.Duration
	SchedulerLeaseTTL      time.Duration
	DedupTTL               time.Duration
	BatchGateTTL           time.Duration
	ContextSummaryLeaseTTL time.Duration

	DefaultTimezone string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// MetaPlatformAccessToken authorizes inline media GET requests at the
	// dispatcher's pre-resolution stage, which runs before the event's
	// owning agent (and its own page-scoped token) is known. Meta issues
	// one system-user token per WhatsApp Business Account covering every
	// phone number under it, so a single platform-level token is valid
	// across agents that share a WABA; outbound sends still use each
	// agent's own MetaAccessToken (spec §6 per-agent credentials).
	MetaPlatformAccessToken string
	MetaVerifyToken         string
	WaSenderWebhookSecret   string
}

// Load reads Config from the environment, applying the same
// "warn and continue" .env handling the teacher uses everywhere.
func Load() *Config {
	log := logx.With("config")
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("⚠️ .env file not found, using system environment variables")
	}

	cfg := &Config{
		Env:         getenv("ENV", "development"),
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),

		OpenAIKeys:    splitKeys(os.Getenv("OPENAI_API_KEYS"), os.Getenv("OPENAI_API_KEY")),
		AnthropicKeys: splitKeys(os.Getenv("ANTHROPIC_API_KEYS"), os.Getenv("ANTHROPIC_API_KEY")),
		GeminiKeys:    splitKeys(os.Getenv("GEMINI_API_KEYS"), os.Getenv("GEMINI_API_KEY")),

		SchedulerCheckInterval: durEnv("SCHEDULER_CHECK_INTERVAL_SECONDS", 30*time.Second),
		SchedulerLeaseTTL:      durEnv("SCHEDULER_LEASE_TTL_SECONDS", 180*time.Second),
		DedupTTL:               durEnv("DEDUP_TTL_SECONDS", 5*time.Minute),
		BatchGateTTL:           durEnv("BATCH_GATE_TTL_SECONDS", 30*time.Second),
		ContextSummaryLeaseTTL: durEnv("CONTEXT_SUMMARY_LEASE_TTL_SECONDS", 5*time.Minute),

		DefaultTimezone: getenv("DEFAULT_TIMEZONE", "Asia/Jerusalem"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		MetaPlatformAccessToken: os.Getenv("META_PLATFORM_ACCESS_TOKEN"),
		MetaVerifyToken:         os.Getenv("META_VERIFY_TOKEN"),
		WaSenderWebhookSecret:   os.Getenv("WASENDER_WEBHOOK_SECRET"),
	}

	if cfg.DatabaseURL == "" {
		log.Warn().Msg("⚠️ DATABASE_URL is empty")
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// splitKeys parses a comma-separated multi-key env var, falling back to the
// singular key variable per spec §4.4 ("multi-key env var, fallback singular").
func splitKeys(multi, single string) []string {
	if multi == "" {
		if single == "" {
			return nil
		}
		return []string{single}
	}
	parts := strings.Split(multi, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
