// Package orchestrator implements the Conversation Orchestrator (C3): the
// per-batch turn that resolves the conversation, persists inbound
// messages, assembles the prompt, invokes the LLM through the tool loop,
// and ships the reply. Grounded on the teacher's worker/ai_worker.go
// single-job-handler shape (resolve context, call the model, persist,
// send), generalized from its fixed single-table prompt to the
// summary/history/calendar/media assembly spec §4.3 requires.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/calendar"
	"github.com/genfity/wa-agent-core/internal/core/dispatcher"
	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/tools"
	"github.com/genfity/wa-agent-core/internal/core/vector"
	"github.com/genfity/wa-agent-core/internal/core/whatsapp"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// ContextSummarizer is implemented by the Context-Summary Engine (C6).
// Kept as a narrow interface so C3 never depends on C6's lease/threshold
// internals directly (spec §4.6 runs under its own distributed mutex).
type ContextSummarizer interface {
	Summarize(ctx context.Context, conversationID uuid.UUID) error
}

// Orchestrator wires C3's dependencies: C4 (llm.Factory), C5's supporting
// infra (calendar, embeddings), C6, and the per-provider outbound senders.
type Orchestrator struct {
	db                *gorm.DB
	factory           *llm.Factory
	calendar          calendar.Client
	reminders         tools.ReminderMaterializer
	apptWebhook       tools.AppointmentWebhookSender
	embedder          vector.EmbeddingProvider
	contextSummarizer ContextSummarizer
	followupTimers    FollowupTimerWriter
}

// FollowupTimerWriter is the narrow slice of kv.Store the orchestrator
// needs to write/cancel follow-up timers (spec §4.10's event-driven writes
// happen from C3, the rest of the sorted-set lifecycle belongs to C10).
type FollowupTimerWriter interface {
	EnqueueTimer(ctx context.Context, setKey, member string, at time.Time) error
	RemoveTimer(ctx context.Context, setKey, member string) error
}

const followupTimerSetKey = "followup:timers"

func New(db *gorm.DB, factory *llm.Factory, cal calendar.Client, reminders tools.ReminderMaterializer, apptWebhook tools.AppointmentWebhookSender, embedder vector.EmbeddingProvider, summarizer ContextSummarizer, timers FollowupTimerWriter) *Orchestrator {
	return &Orchestrator{
		db:                db,
		factory:           factory,
		calendar:          cal,
		reminders:         reminders,
		apptWebhook:       apptWebhook,
		embedder:          embedder,
		contextSummarizer: summarizer,
		followupTimers:    timers,
	}
}

// HandleBatch is the Batcher's on_flush callback: one drained batch for
// one (agent, user) pair becomes one LLM turn (spec §4.3).
func (o *Orchestrator) HandleBatch(ctx context.Context, agentID, userPhone string, events []dispatcher.NormalizedEvent) {
	log := logx.With("orchestrator")
	if len(events) == 0 {
		return
	}

	var agent models.Agent
	aid, err := uuid.Parse(agentID)
	if err != nil {
		log.Error().Err(err).Msg("❌ invalid agent id in batch")
		return
	}
	if err := o.db.WithContext(ctx).First(&agent, "id = ?", aid).Error; err != nil {
		log.Error().Err(err).Str("agent_id", agentID).Msg("❌ agent not found for batch")
		return
	}

	user, conv, err := o.resolveUserConversation(ctx, &agent, userPhone, events)
	if err != nil {
		log.Error().Err(err).Msg("❌ failed to resolve user/conversation")
		return
	}

	now := time.Now().UTC()
	o.clearOptOut(ctx, conv)
	o.bumpLastCustomerMessageAndCancelFollowups(ctx, &agent, conv, now)

	msgs := o.persistInbound(ctx, conv, events)

	if conv.Paused {
		log.Info().Str("conversation_id", conv.ID.String()).Msg("⏸️ conversation paused, skipping AI turn")
		return
	}

	o.runTurn(ctx, &agent, user, conv, msgs)
}

// resolveUserConversation loads or creates the User (by phone) and the
// (agent, user) Conversation, using the first event's display name when
// creating a new user.
func (o *Orchestrator) resolveUserConversation(ctx context.Context, agent *models.Agent, userPhone string, events []dispatcher.NormalizedEvent) (*models.User, *models.Conversation, error) {
	var user models.User
	err := o.db.WithContext(ctx).Where("phone = ?", userPhone).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		user = models.User{Phone: userPhone, Gender: models.GenderUnknown}
		for _, e := range events {
			if e.DisplayName != "" {
				user.DisplayName = e.DisplayName
				break
			}
		}
		if err := o.db.WithContext(ctx).Create(&user).Error; err != nil {
			return nil, nil, fmt.Errorf("create user: %w", err)
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}

	var conv models.Conversation
	err = o.db.WithContext(ctx).Where("agent_id = ? AND user_id = ?", agent.ID, user.ID).First(&conv).Error
	if err == gorm.ErrRecordNotFound {
		conv = models.Conversation{AgentID: agent.ID, UserID: user.ID}
		if err := o.db.WithContext(ctx).Create(&conv).Error; err != nil {
			return nil, nil, fmt.Errorf("create conversation: %w", err)
		}
	} else if err != nil {
		return nil, nil, fmt.Errorf("load conversation: %w", err)
	}

	return &user, &conv, nil
}

// clearOptOut implements spec §3: "any inbound customer message clears
// [opted_out]".
func (o *Orchestrator) clearOptOut(ctx context.Context, conv *models.Conversation) {
	if !conv.OptedOut {
		return
	}
	conv.OptedOut = false
	o.db.WithContext(ctx).Model(conv).Update("opted_out", false)
}

// bumpLastCustomerMessageAndCancelFollowups enforces I2 (never decreases
// the timestamp) and I3 (cancels pending/evaluating follow-ups since the
// customer spoke again).
func (o *Orchestrator) bumpLastCustomerMessageAndCancelFollowups(ctx context.Context, agent *models.Agent, conv *models.Conversation, now time.Time) {
	log := logx.With("orchestrator")

	res := o.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND (last_customer_message_at IS NULL OR last_customer_message_at < ?)", conv.ID, now).
		Update("last_customer_message_at", now)
	if res.Error != nil {
		log.Warn().Err(res.Error).Msg("⚠️ failed to bump last_customer_message_at")
	} else if res.RowsAffected > 0 {
		conv.LastCustomerMessageAt = &now
	}

	if err := o.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
		Where("conversation_id = ? AND status IN ?", conv.ID, []models.FollowupStatus{models.FollowupPending, models.FollowupEvaluating}).
		Update("status", models.FollowupCancelled).Error; err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to cancel pending follow-ups")
	}

	member := agent.ID.String() + ":" + conv.ID.String()
	if o.followupTimers != nil {
		_ = o.followupTimers.RemoveTimer(ctx, followupTimerSetKey, member)
	}
}

// persistInbound writes one Message row per batch event, resolving image
// descriptions that were already folded into event.Text by C1.
func (o *Orchestrator) persistInbound(ctx context.Context, conv *models.Conversation, events []dispatcher.NormalizedEvent) []models.Message {
	log := logx.With("orchestrator")
	msgs := make([]models.Message, 0, len(events))
	for _, e := range events {
		m := models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleUser,
			ContentType:    e.ContentType,
			Text:           e.Text,
			MediaID:        e.MediaID,
			MediaURL:       e.MediaURL,
		}
		if err := o.db.WithContext(ctx).Create(&m).Error; err != nil {
			log.Error().Err(err).Msg("❌ failed to persist inbound message")
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs
}

// runTurn builds the prompt, invokes the LLM/tool loop, persists the
// reply, sends it, and performs the post-reply bookkeeping (usage,
// context-summary trigger, follow-up timer).
func (o *Orchestrator) runTurn(ctx context.Context, agent *models.Agent, user *models.User, conv *models.Conversation, inbound []models.Message) {
	log := logx.With("orchestrator")

	req, err := o.buildRequest(ctx, agent, user, conv, inbound)
	if err != nil {
		log.Error().Err(err).Msg("❌ failed to assemble prompt")
		return
	}

	executor := tools.New(o.db, agent, user.ID, conv.ID, o.calendar, o.reminders, o.apptWebhook, o.embedder)
	provider, err := o.factory.Resolve(req)
	if err != nil {
		log.Error().Err(err).Msg("❌ no provider for agent model")
		return
	}

	result, err := provider.GetResponse(ctx, req, executor.Handle)
	if err != nil {
		log.Error().Err(err).Msg("❌ llm call failed")
		return
	}

	o.addTokenUsage(ctx, agent, req.Model, result.Usage)

	sender := o.senderFor(agent)
	if result.Text != "" {
		reply := models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, ContentType: models.ContentText, Text: result.Text}
		if err := o.db.WithContext(ctx).Create(&reply).Error; err != nil {
			log.Error().Err(err).Msg("❌ failed to persist assistant reply")
		}
		if sender != nil {
			if err := sender.SendText(ctx, user.Phone, result.Text); err != nil {
				log.Warn().Err(err).Msg("⚠️ failed to send assistant reply")
			}
		}
	}

	o.handleMediaActions(ctx, agent, conv, user, sender, result.MediaActions)

	o.maybeTriggerContextSummary(ctx, agent, conv)
	o.maybeEnqueueFollowup(ctx, agent, conv)
}

// senderFor constructs the outbound client for an agent's configured
// provider directly from its stored credentials (spec §3: credentials
// live on Agent, one client per send since credentials can change).
func (o *Orchestrator) senderFor(agent *models.Agent) whatsapp.Sender {
	switch agent.Provider {
	case models.ProviderMeta:
		if agent.MetaPhoneNumberID == "" || agent.MetaAccessToken == "" {
			return nil
		}
		return whatsapp.NewMetaClient(agent.MetaPhoneNumberID, agent.MetaAccessToken)
	case models.ProviderWaSender:
		if agent.WaSenderAPIKey == "" || agent.WaSenderSession == "" {
			return nil
		}
		return whatsapp.NewWaSenderClient(agent.WaSenderAPIKey, agent.WaSenderSession)
	default:
		return nil
	}
}

// handleMediaActions dedupes send_media directives by media id within the
// batch, caps at media_config.max_per_message, ships each, and records a
// media-typed assistant message on success (spec §4.3).
func (o *Orchestrator) handleMediaActions(ctx context.Context, agent *models.Agent, conv *models.Conversation, user *models.User, sender whatsapp.Sender, actions []llm.MediaAction) {
	if len(actions) == 0 {
		return
	}
	log := logx.With("orchestrator")
	cfg := agent.MediaConfig()
	maxPer := cfg.MaxPerMessage
	if maxPer <= 0 {
		maxPer = 3
	}

	seen := make(map[string]bool, len(actions))
	sentCount := 0
	for _, a := range actions {
		if sentCount >= maxPer {
			log.Debug().Int("cap", maxPer).Msg("🔇 media cap reached, dropping remaining actions")
			break
		}
		if seen[a.MediaID] {
			continue
		}
		seen[a.MediaID] = true

		var media models.AgentMedia
		if err := o.db.WithContext(ctx).Where("id = ? AND agent_id = ?", a.MediaID, agent.ID).First(&media).Error; err != nil {
			log.Warn().Err(err).Str("media_id", a.MediaID).Msg("⚠️ media action referenced unknown media")
			continue
		}

		if err := o.sendMediaByMime(ctx, sender, user.Phone, &media, a.Caption); err != nil {
			log.Warn().Err(err).Msg("⚠️ failed to send media")
			continue
		}

		msg := models.Message{
			ConversationID: conv.ID,
			Role:           models.RoleAssistant,
			ContentType:    models.ContentMedia,
			Text:           a.Caption,
			MediaID:        media.ID.String(),
			MediaURL:       media.URL,
		}
		o.db.WithContext(ctx).Create(&msg)
		sentCount++
	}
}

func (o *Orchestrator) sendMediaByMime(ctx context.Context, sender whatsapp.Sender, to string, media *models.AgentMedia, caption string) error {
	if sender == nil {
		return fmt.Errorf("no outbound sender configured")
	}
	if caption == "" {
		caption = media.DefaultCaption
	}
	switch {
	case isImageMime(media.MimeType):
		return sender.SendImage(ctx, to, "", media.URL, caption)
	case isVideoMime(media.MimeType):
		return sender.SendVideo(ctx, to, "", media.URL, caption)
	default:
		return sender.SendDocument(ctx, to, "", media.URL, media.DisplayName, caption)
	}
}

func isImageMime(mime string) bool {
	return len(mime) >= 6 && mime[:6] == "image/"
}

func isVideoMime(mime string) bool {
	return len(mime) >= 6 && mime[:6] == "video/"
}

// maybeEnqueueFollowup writes the step-0 timer after an assistant reply to
// a conversation whose customer has spoken at least once (spec §4.10).
func (o *Orchestrator) maybeEnqueueFollowup(ctx context.Context, agent *models.Agent, conv *models.Conversation) {
	if o.followupTimers == nil || conv.LastCustomerMessageAt == nil {
		return
	}
	cfg := agent.FollowupConfig()
	if !cfg.Enabled || len(cfg.Sequence) == 0 {
		return
	}
	log := logx.With("orchestrator")
	delay := time.Duration(cfg.Sequence[0].DelayHours * float64(time.Hour))
	member := agent.ID.String() + ":" + conv.ID.String()
	if err := o.followupTimers.EnqueueTimer(ctx, followupTimerSetKey, member, time.Now().Add(delay)); err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to enqueue follow-up timer")
	}
}
