// Package contextsummary implements the Context-Summary Engine (C6): the
// rolling long-term memory that replaces raw history once a conversation
// grows past its thresholds (spec §4.6). Grounded on the teacher's
// worker/ai_worker.go single-purpose job-runner shape, adapted to a
// lease-guarded incremental/full summarization cycle instead of a plain
// one-shot completion.
package contextsummary

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/kv"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// leaseTTL guards one conversation's summarization run against concurrent
// triggers across instances (spec §4.6: "context_summary:lock:{conv} with
// a 5-minute TTL").
const leaseTTL = 5 * time.Minute

// maxFullSummaryMessages caps a full-mode summarization input (spec §4.6:
// "all messages, capped at 200").
const maxFullSummaryMessages = 200

// maxMessageChars truncates any one message fed to the summarizer, matching
// builder.py's _format_messages (500-char per-message cap).
const maxMessageChars = 500

// Engine produces/updates a ConversationContextSummary.
type Engine struct {
	db    *gorm.DB
	kv    kv.Store
	llmFn func(model string) (llm.Provider, error)
}

func New(db *gorm.DB, store kv.Store, providerFor func(model string) (llm.Provider, error)) *Engine {
	return &Engine{db: db, kv: store, llmFn: providerFor}
}

// Summarize runs one summarization cycle for a conversation under a
// per-conversation distributed lease, implementing orchestrator.ContextSummarizer.
func (e *Engine) Summarize(ctx context.Context, conversationID uuid.UUID) error {
	log := logx.With("contextsummary")
	lockKey := "context_summary:lock:" + conversationID.String()

	acquired, err := e.kv.AcquireConvLease(ctx, lockKey, leaseTTL)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ lease store error, proceeding best-effort")
	} else if !acquired {
		log.Debug().Str("conversation_id", conversationID.String()).Msg("🔒 summarization already in progress elsewhere")
		return nil
	}
	defer func() {
		_ = e.kv.ReleaseConvLease(ctx, lockKey)
	}()

	var conv models.Conversation
	if err := e.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		return fmt.Errorf("contextsummary: load conversation: %w", err)
	}
	var agent models.Agent
	if err := e.db.WithContext(ctx).First(&agent, "id = ?", conv.AgentID).Error; err != nil {
		return fmt.Errorf("contextsummary: load agent: %w", err)
	}
	cfg := agent.ContextSummaryConfig()

	var existing models.ConversationContextSummary
	found := e.db.WithContext(ctx).Where("conversation_id = ?", conversationID).First(&existing).Error == nil

	fullEvery := cfg.FullSummaryEvery
	if fullEvery <= 0 {
		fullEvery = 5
	}
	runIsFull := !found || (existing.IncrementalCount+1)%fullEvery == 0

	var latestMsgID uuid.UUID
	var latestMsg models.Message
	if err := e.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at DESC").First(&latestMsg).Error; err == nil {
		latestMsgID = latestMsg.ID
	}

	var prompt string
	if runIsFull {
		prompt, err = e.buildFullPrompt(ctx, conversationID)
	} else {
		prompt, err = e.buildIncrementalPrompt(ctx, conversationID, &existing)
	}
	if err != nil {
		return err
	}

	provider, err := e.llmFn(agent.LLMModel)
	if err != nil {
		return fmt.Errorf("contextsummary: resolve provider: %w", err)
	}
	summaryText, err := provider.GenerateSimpleResponse(ctx, summarizerSystemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("contextsummary: generate: %w", err)
	}

	if found {
		existing.SummaryText = summaryText
		existing.LastMessageIDCovered = latestMsgID
		if runIsFull {
			existing.IncrementalCount = 0
		} else {
			existing.IncrementalCount++
		}
		return e.db.WithContext(ctx).Save(&existing).Error
	}

	newSummary := models.ConversationContextSummary{
		ConversationID:       conversationID,
		SummaryText:          summaryText,
		LastMessageIDCovered: latestMsgID,
		IncrementalCount:     0,
	}
	return e.db.WithContext(ctx).Create(&newSummary).Error
}

// summarizerSystemPrompt matches builder.py's SUMMARY_INSTRUCTIONS: a
// structured, skip-if-empty checklist rather than a free-form ask, since
// this summary is the agent's only long-term memory once raw history is
// dropped (spec §4.6).
const summarizerSystemPrompt = `סכם את השיחה בצורה מובנית ותמציתית. הסיכום ישמש כזיכרון ארוך טווח לסוכן AI.

כלול:
1. נושאים מרכזיים שנדונו
2. מידע שנלמד על הלקוח (שם, מגדר, תחום, העדפות)
3. בקשות ותשובות מרכזיות
4. מדיה/קבצים שנשלחו (ציין סוג ותיאור)
5. פגישות שנקבעו/שונו/בוטלו
6. עניינים פתוחים שלא נסגרו
7. הסכמות או התחייבויות שניתנו

כתוב בעברית. היה ממוקד — אל תחזור על מידע כפול. אם אין מידע לסעיף מסוים, דלג עליו.`

func (e *Engine) buildFullPrompt(ctx context.Context, conversationID uuid.UUID) (string, error) {
	var msgs []models.Message
	if err := e.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Limit(maxFullSummaryMessages).Find(&msgs).Error; err != nil {
		return "", fmt.Errorf("contextsummary: load full history: %w", err)
	}
	reverseMessages(msgs)
	return fmt.Sprintf("כל ההודעות בשיחה (%d):\n%s\nכתוב סיכום מלא של השיחה:", len(msgs), renderTranscript(msgs)), nil
}

func (e *Engine) buildIncrementalPrompt(ctx context.Context, conversationID uuid.UUID, existing *models.ConversationContextSummary) (string, error) {
	q := e.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	var covered models.Message
	if err := e.db.WithContext(ctx).First(&covered, "id = ?", existing.LastMessageIDCovered).Error; err == nil {
		q = q.Where("created_at > ?", covered.CreatedAt)
	}
	var msgs []models.Message
	if err := q.Order("created_at ASC").Find(&msgs).Error; err != nil {
		return "", fmt.Errorf("contextsummary: load uncovered messages: %w", err)
	}
	parts := ""
	if existing.SummaryText != "" {
		parts = fmt.Sprintf("סיכום קיים (עד כה):\n%s\n\nהודעות חדשות (%d):\n", existing.SummaryText, len(msgs))
	} else {
		parts = fmt.Sprintf("הודעות השיחה (%d):\n", len(msgs))
	}
	return parts + renderTranscript(msgs) + "\nכתוב סיכום מעודכן שמכסה את כל השיחה (כולל המידע מהסיכום הקיים אם רלוונטי):", nil
}

// renderTranscript labels each turn with Hebrew role names and prefixes
// non-text turns with their content type, matching builder.py's
// _format_messages.
func renderTranscript(msgs []models.Message) string {
	out := ""
	for _, m := range msgs {
		role := "סוכן"
		if m.Role == models.RoleUser {
			role = "לקוח"
		}
		text := m.Text
		if len(text) > maxMessageChars {
			text = text[:maxMessageChars]
		}
		prefix := ""
		if m.ContentType != "" && m.ContentType != models.ContentText {
			prefix = fmt.Sprintf("[%s] ", m.ContentType)
		}
		out += fmt.Sprintf("%s: %s%s\n", role, prefix, text)
	}
	return out
}

func reverseMessages(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
