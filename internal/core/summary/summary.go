// Package summary implements the Summary Engine (C9): detects conversations
// that have gone quiet long enough to summarize, generates the summary via
// the agent's LLM, and delivers it to a configured webhook with bounded
// retry. Grounded on the teacher's worker/ai_worker.go tick-driven batch
// processor, generalized from a single polling query to the N+1-free
// detection query spec §4.9 requires.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

const (
	detectionBatchSize = 50
	maxMessageChars     = 1000
	maxPromptChars      = 30000
	deliveryTimeout     = 15 * time.Second
)

// Engine implements webhook.InlineSummarizer and owns the detect/generate/
// deliver/retry cycle driven by the scheduler.
type Engine struct {
	db         *gorm.DB
	factory    *llm.Factory
	httpClient *http.Client
}

func New(db *gorm.DB, factory *llm.Factory) *Engine {
	return &Engine{db: db, factory: factory, httpClient: &http.Client{Timeout: deliveryTimeout}}
}

// DetectAndGenerate finds every conversation whose last user message is
// older than its agent's delay_minutes, has at least min_messages total,
// and has no summary covering that message yet (invariant I1, enforced at
// the DB layer by the unique (conversation_id, last_message_at) index —
// this query is advisory, the insert is authoritative). One SQL query per
// enabled agent avoids N+1 (spec §4.9).
func (e *Engine) DetectAndGenerate(ctx context.Context, now time.Time) {
	log := logx.With("summary")

	var agents []models.Agent
	if err := e.db.WithContext(ctx).Where("active = ?", true).Find(&agents).Error; err != nil {
		log.Error().Err(err).Msg("❌ failed to list agents for summary detection")
		return
	}

	for _, agent := range agents {
		cfg := agent.SummaryConfig()
		if !cfg.Enabled || cfg.WebhookURL == "" {
			continue
		}
		e.detectForAgent(ctx, &agent, cfg, now)
	}
}

func (e *Engine) detectForAgent(ctx context.Context, agent *models.Agent, cfg models.SummaryConfig, now time.Time) {
	log := logx.With("summary")
	cutoff := now.Add(-time.Duration(cfg.DelayMinutes) * time.Minute)
	minMessages := cfg.MinMessages
	if minMessages <= 0 {
		minMessages = 1
	}

	rows, err := e.db.WithContext(ctx).Raw(`
		SELECT c.id, c.last_customer_message_at, cnt.message_count
		FROM conversations c
		JOIN LATERAL (
			SELECT count(*) AS message_count FROM messages m WHERE m.conversation_id = c.id
		) cnt ON true
		WHERE c.agent_id = ?
		  AND c.last_customer_message_at IS NOT NULL
		  AND c.last_customer_message_at <= ?
		  AND cnt.message_count >= ?
		  AND NOT EXISTS (
			SELECT 1 FROM conversation_summaries s
			WHERE s.conversation_id = c.id AND s.last_message_at >= c.last_customer_message_at
		  )
		LIMIT ?
	`, agent.ID, cutoff, minMessages, detectionBatchSize).Rows()
	if err != nil {
		log.Error().Err(err).Str("agent_id", agent.ID.String()).Msg("❌ summary detection query failed")
		return
	}
	defer rows.Close()

	type candidate struct {
		conversationID string
		lastMessageAt  time.Time
		messageCount   int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.conversationID, &c.lastMessageAt, &c.messageCount); err != nil {
			log.Warn().Err(err).Msg("⚠️ failed to scan summary candidate row")
			continue
		}
		candidates = append(candidates, c)
	}

	for _, c := range candidates {
		e.generateForConversation(ctx, agent, cfg, c.conversationID, c.lastMessageAt, c.messageCount)
	}
}

func (e *Engine) generateForConversation(ctx context.Context, agent *models.Agent, cfg models.SummaryConfig, conversationID string, lastMessageAt time.Time, messageCount int) {
	log := logx.With("summary")

	text, err := e.summarize(ctx, agent, conversationID, cfg.MaxMessages)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("⚠️ failed to generate conversation summary")
		return
	}

	convID, err := uuid.Parse(conversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("⚠️ invalid conversation id in summary candidate")
		return
	}
	row := models.ConversationSummary{
		ConversationID: convID,
		AgentID:        agent.ID,
		LastMessageAt:  lastMessageAt,
		MessageCount:   messageCount,
		SummaryText:    text,
		Status:         models.SummaryPending,
	}
	if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
		// Unique violation on (conversation_id, last_message_at) means
		// another instance already won this race (invariant I1) — bail
		// silently rather than treating it as an error.
		log.Debug().Err(err).Str("conversation_id", conversationID).Msg("ℹ️ summary row already exists, skipping")
		return
	}

	e.deliver(ctx, agent, cfg, &row)
}

// GenerateInline produces an ad-hoc summary for the appointment webhook
// payload (spec §6), without touching the ConversationSummary delivery
// table — this path is fire-and-read, not persisted/retried.
func (e *Engine) GenerateInline(ctx context.Context, conversationID, agentID, userID string) (string, error) {
	var agent models.Agent
	if err := e.db.WithContext(ctx).First(&agent, "id = ?", agentID).Error; err != nil {
		return "", err
	}
	return e.summarize(ctx, &agent, conversationID, 0)
}

func (e *Engine) summarize(ctx context.Context, agent *models.Agent, conversationID string, maxMessages int) (string, error) {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	var msgs []models.Message
	if err := e.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(maxMessages).
		Find(&msgs).Error; err != nil {
		return "", fmt.Errorf("summary: load messages: %w", err)
	}
	reverseMessages(msgs)

	prompt := "---\nהשיחה:\n" + renderPrompt(msgs) + "---\nכתוב סיכום תמציתי וברור."
	provider, err := e.factory.ProviderFor(agent.LLMModel)
	if err != nil {
		return "", fmt.Errorf("summary: resolve provider: %w", err)
	}
	return provider.GenerateSimpleResponse(ctx, summarizerSystemPrompt, prompt)
}

// summarizerSystemPrompt matches summaries.py's DEFAULT_SUMMARY_PROMPT
// in substance (main topics, customer requests, answers given, open
// issues), written in Hebrew since this engine's webhook payload is
// consumed by Hebrew-speaking business owners (the teacher/source's
// primary market).
const summarizerSystemPrompt = "סכם את השיחה הזו בצורה תמציתית.\nכלול: נושאי השיחה העיקריים, בקשות הלקוח, תשובות שניתנו, והאם נותרו עניינים פתוחים."

func renderPrompt(msgs []models.Message) string {
	out := ""
	for _, m := range msgs {
		role := "סוכן"
		if m.Role == models.RoleUser {
			role = "לקוח"
		}
		text := m.Text
		if len(text) > maxMessageChars {
			text = text[:maxMessageChars] + "…"
		}
		out += role + ": " + text + "\n"
		if len(out) > maxPromptChars {
			const marker = "\n...[השיחה קוצרה]"
			out = out[:maxPromptChars-len(marker)] + marker
			break
		}
	}
	return out
}

func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// RetryPending delivers every ConversationSummary whose next_retry_at is
// due, called from the scheduler tick alongside detection.
func (e *Engine) RetryPending(ctx context.Context, now time.Time) {
	log := logx.With("summary")

	// status stays "pending" across retries (spec §4.9); only a final
	// exhausted attempt transitions to "failed", which is terminal.
	var due []models.ConversationSummary
	if err := e.db.WithContext(ctx).
		Where("status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?", models.SummaryPending, now).
		Limit(detectionBatchSize).
		Find(&due).Error; err != nil {
		log.Error().Err(err).Msg("❌ failed to query due summary retries")
		return
	}

	for i := range due {
		row := due[i]
		var agent models.Agent
		if err := e.db.WithContext(ctx).First(&agent, "id = ?", row.AgentID).Error; err != nil {
			continue
		}
		cfg := agent.SummaryConfig()
		e.deliver(ctx, &agent, cfg, &row)
	}
}

type webhookPayload struct {
	Event            string `json:"event"`
	Timestamp        string `json:"timestamp"`
	AgentID          string `json:"agent_id"`
	AgentName        string `json:"agent_name"`
	ConversationID   string `json:"conversation_id"`
	CustomerName     string `json:"customer_name"`
	CustomerPhone    string `json:"customer_phone"`
	MessageCount     int    `json:"message_count"`
	Summary          string `json:"summary"`
}

func (e *Engine) deliver(ctx context.Context, agent *models.Agent, cfg models.SummaryConfig, row *models.ConversationSummary) {
	log := logx.With("summary")

	var conv models.Conversation
	var user models.User
	if err := e.db.WithContext(ctx).First(&conv, "id = ?", row.ConversationID).Error; err == nil {
		e.db.WithContext(ctx).First(&user, "id = ?", conv.UserID)
	}

	payload := webhookPayload{
		Event:          "conversation.summary",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		AgentID:        agent.ID.String(),
		AgentName:      agent.Name,
		ConversationID: row.ConversationID.String(),
		CustomerName:   user.DisplayName,
		CustomerPhone:  user.Phone,
		MessageCount:   row.MessageCount,
		Summary:        row.SummaryText,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("❌ failed to marshal summary webhook payload")
		return
	}

	ok, lastErr := e.postOnceWithError(ctx, cfg.WebhookURL, body)
	if ok {
		now := time.Now().UTC()
		e.db.WithContext(ctx).Model(&models.ConversationSummary{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"status": models.SummarySent, "webhook_sent_at": now})
		return
	}

	attempts := row.WebhookAttempts + 1
	retryCount := cfg.WebhookRetryCount
	if retryCount <= 0 {
		retryCount = 5
	}
	updates := map[string]any{"webhook_attempts": attempts, "webhook_last_error": lastErr}
	if attempts >= retryCount {
		updates["status"] = models.SummaryFailed
	} else {
		delay := cfg.WebhookRetryDelaySeconds
		if delay <= 0 {
			delay = 300
		}
		updates["next_retry_at"] = time.Now().UTC().Add(time.Duration(delay) * time.Second)
	}
	e.db.WithContext(ctx).Model(&models.ConversationSummary{}).Where("id = ?", row.ID).Updates(updates)
}

func (e *Engine) postOnceWithError(ctx context.Context, url string, body []byte) (bool, string) {
	log := logx.With("summary")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ summary webhook delivery failed")
		return false, err.Error()
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, fmt.Sprintf("status %d", resp.StatusCode)
	}
	return true, ""
}
