// Command server boots the conversational messaging core: the inbound
// webhook surface (C1), the batcher/orchestrator pipeline (C2/C3/C4/C5),
// and the background scheduler driving reminders, summaries, and
// follow-ups (C6-C10). Grounded on the teacher's cmd/saas-api/main.go
// dependency-injection shape and cmd/agent-core/main.go's signal-driven
// shutdown, combined into the one process this core needs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/genfity/wa-agent-core/internal/api"
	"github.com/genfity/wa-agent-core/internal/core/batcher"
	"github.com/genfity/wa-agent-core/internal/core/calendar"
	"github.com/genfity/wa-agent-core/internal/core/contextsummary"
	"github.com/genfity/wa-agent-core/internal/core/dispatcher"
	"github.com/genfity/wa-agent-core/internal/core/followup"
	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/orchestrator"
	"github.com/genfity/wa-agent-core/internal/core/reminder"
	"github.com/genfity/wa-agent-core/internal/core/scheduler"
	"github.com/genfity/wa-agent-core/internal/core/summary"
	"github.com/genfity/wa-agent-core/internal/core/vector"
	"github.com/genfity/wa-agent-core/internal/core/webhook"
	"github.com/genfity/wa-agent-core/internal/core/whatsapp"
	"github.com/genfity/wa-agent-core/internal/platform/config"
	"github.com/genfity/wa-agent-core/internal/platform/db"
	"github.com/genfity/wa-agent-core/internal/platform/kv"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

func main() {
	cfg := config.Load()
	log := logx.With("server")
	log.Info().Str("env", cfg.Env).Msg("🚀 Starting wa-agent-core")

	gdb, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ failed to open database")
	}

	store, err := newKVStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ failed to initialize redis store")
	}

	registry := llm.NewRegistry(map[string][]string{
		"openai":    cfg.OpenAIKeys,
		"anthropic": cfg.AnthropicKeys,
		"gemini":    cfg.GeminiKeys,
	})
	factory := llm.NewFactory(registry)
	transcriber := llm.NewWhisperTranscriber(registry.Pool("openai"))

	embedder, err := vector.NewOpenAIEmbeddingProvider(firstKey(cfg.OpenAIKeys))
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ embedding provider unavailable, knowledge search will degrade")
	}

	var calClient calendar.Client
	if cfg.GoogleClientID != "" {
		calClient = calendar.NewGoogleClient(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	reminderEngine := reminder.New(gdb, factory)
	summaryEngine := summary.New(gdb, factory)
	followupEngine := followup.New(gdb, store, factory)
	apptWebhook := webhook.NewAppointmentSender(gdb, summaryEngine)
	ctxSummarizer := contextsummary.New(gdb, store, factory.ProviderFor)

	orch := orchestrator.New(gdb, factory, calClient, reminderEngine, apptWebhook, embedder, ctxSummarizer, store)
	bat := batcher.New(store, orch.HandleBatch)

	// The dispatcher's inline media pre-resolution runs before the owning
	// agent (and its own page-scoped token) is known, so it uses a
	// platform-level Meta token shared across agents on the same WABA
	// (see config.MetaPlatformAccessToken) rather than a per-agent client.
	metaMedia := whatsapp.NewMetaClient("", cfg.MetaPlatformAccessToken)
	wasenderMedia := whatsapp.NewWaSenderClient("", "")
	disp := dispatcher.New(gdb, store, factory, transcriber, metaMedia, wasenderMedia, bat)

	sched := scheduler.New(store, reminderEngine, summaryEngine, followupEngine)

	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	go sched.Run(schedCtx)

	handlers := api.NewHandlers(gdb, disp, cfg.MetaVerifyToken)
	app := fiber.New(fiber.Config{AppName: "wa-agent-core"})
	app.Use(cors.New())
	app.Use(recover.New())

	app.Get("/health", handlers.Health)
	app.Get("/webhook", handlers.VerifyMeta)
	app.Post("/webhook", handlers.ReceiveMeta)
	app.Post("/webhook/wasender/:agent_id", handlers.ReceiveWaSender)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("✅ listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Fatal().Err(err).Msg("❌ fiber server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("🛑 shutting down")
	cancelSched()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	log.Info().Msg("👋 goodbye")
}

// newKVStore wires a Redis-backed store with the FailoverStore wrapper when
// a Redis URL is configured (no connection is attempted here; FailoverStore
// falls back per call when Redis is unreachable), and the in-memory store
// when REDIS_URL is empty (spec §5 degrades to single-instance).
func newKVStore(cfg *config.Config) (kv.Store, error) {
	log := logx.With("server")
	if cfg.RedisURL == "" {
		log.Warn().Msg("⚠️ no REDIS_URL configured, using in-memory store (single instance only)")
		return kv.NewMemoryStore(), nil
	}
	redisStore, err := kv.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return kv.NewFailoverStore(redisStore), nil
}

func firstKey(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	return keys[0]
}
