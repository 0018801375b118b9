package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/tools"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// maxMediaEnumeration is the cutoff past which the media section instructs
// the model to use search_media instead of listing every item (spec §4.3).
const maxMediaEnumeration = 15

// tokenCharsPerToken is the conservative chars-per-token estimate used for
// the context-summary size trigger (spec §4.3).
const tokenCharsPerToken = 3

// tokenSafetyRatio is the fraction of a provider's declared ceiling that
// trips the context-summary size trigger.
const tokenSafetyRatio = 0.9

// providerTokenCeilings are the declared context windows per provider
// family, used only for the 90%-ceiling estimate (spec §4.3); actual
// enforcement lives with the provider itself.
var providerTokenCeilings = map[string]int{
	"openai":    128000,
	"anthropic": 200000,
	"gemini":    1000000,
}

func hebrewWeekday(t time.Time) string {
	names := [...]string{"ראשון", "שני", "שלישי", "רביעי", "חמישי", "שישי", "שבת"}
	return names[int(t.Weekday())]
}

// buildRequest assembles the canonical CompletionRequest for one turn:
// cacheable block, user-info block, optional calendar block, and history
// selection per spec §4.3.
func (o *Orchestrator) buildRequest(ctx context.Context, agent *models.Agent, user *models.User, conv *models.Conversation, pending []models.Message) (llm.CompletionRequest, error) {
	loc := agentLocation(agent.Timezone)
	now := time.Now().In(loc)

	cacheable := o.buildCacheableBlock(ctx, agent, now)
	userInfo := o.buildUserInfoBlock(user)

	blocks := []llm.SystemBlock{
		{Text: cacheable, Cacheable: true},
		{Text: userInfo, Cacheable: false},
	}

	calCfg := agent.CalendarConfig()
	if calCfg.Enabled {
		if calBlock := o.buildCalendarBlock(ctx, agent, user, calCfg, loc); calBlock != "" {
			blocks = append(blocks, llm.SystemBlock{Text: calBlock, Cacheable: false})
		}
	}

	history, err := o.selectHistory(ctx, agent, conv)
	if err != nil {
		return llm.CompletionRequest{}, err
	}

	// The pending batch is persisted before this turn, so it is the newest
	// stretch of the loaded history; drop it there, since it is sent as
	// UserContent.
	if n := len(pending); n > 0 && len(history) >= n {
		tail := history[len(history)-n:]
		inHistory := true
		for i, m := range pending {
			if tail[i].Role != llm.RoleUser || tail[i].Text != m.Text {
				inHistory = false
				break
			}
		}
		if inHistory {
			history = history[:len(history)-n]
		}
	}

	userContent := joinMessages(pending)
	overrideKey := agent.APIKeyOverrides()[modelProviderFamily(agent.LLMModel)]

	return llm.CompletionRequest{
		Model:            agent.LLMModel,
		SystemBlocks:     blocks,
		History:          history,
		UserContent:      userContent,
		Tools:            tools.Specs(),
		AgentOverrideKey: overrideKey,
	}, nil
}

func modelProviderFamily(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini-"):
		return "gemini"
	default:
		return ""
	}
}

func agentLocation(tz string) *time.Location {
	if tz == "" {
		tz = "Asia/Jerusalem"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (o *Orchestrator) buildCacheableBlock(ctx context.Context, agent *models.Agent, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current date/time: %s (%s)\n\n", now.Format("2006-01-02 15:04"), hebrewWeekday(now))
	if agent.SystemPrompt != "" {
		b.WriteString(agent.SystemPrompt)
		b.WriteString("\n\n")
	}
	b.WriteString(toolUsageSuffix)
	b.WriteString("\n\n")
	b.WriteString(o.buildKnowledgeSection(ctx, agent))
	b.WriteString("\n\n")
	b.WriteString(o.buildMediaSection(ctx, agent))
	return b.String()
}

const toolUsageSuffix = "You can use tools to look up information, book/manage appointments, search products/knowledge, send media, and update what you know about the customer. Always prefer a tool call over guessing when the answer depends on live data."

func (o *Orchestrator) buildKnowledgeSection(ctx context.Context, agent *models.Agent) string {
	var faqCount, productCount int64
	o.db.WithContext(ctx).Model(&models.KnowledgeItem{}).Where("agent_id = ? AND type = ?", agent.ID, models.KnowledgeFAQ).Count(&faqCount)
	o.db.WithContext(ctx).Model(&models.KnowledgeItem{}).Where("agent_id = ? AND type = ?", agent.ID, models.KnowledgeProduct).Count(&productCount)
	return fmt.Sprintf("Business knowledge: %d FAQ entries available via search_knowledge, %d products available via query_products.", faqCount, productCount)
}

func (o *Orchestrator) buildMediaSection(ctx context.Context, agent *models.Agent) string {
	var media []models.AgentMedia
	o.db.WithContext(ctx).Where("agent_id = ? AND active = ?", agent.ID, true).Find(&media)

	if len(media) == 0 {
		return "No media items are configured for this agent."
	}
	if len(media) > maxMediaEnumeration {
		return fmt.Sprintf("%d media items are available; use search_media to find the right one instead of guessing its id.", len(media))
	}

	var b strings.Builder
	b.WriteString("Available media (use send_media with the id):\n")
	for _, m := range media {
		fmt.Fprintf(&b, "- id=%s name=%q caption=%q\n", m.ID, m.DisplayName, m.DefaultCaption)
	}
	return b.String()
}

func (o *Orchestrator) buildUserInfoBlock(user *models.User) string {
	name := user.DisplayName
	if name == "" {
		name = "(unknown)"
	}
	return fmt.Sprintf("Customer info: name=%s, gender=%s, phone=%s.", name, user.Gender, user.Phone)
}

func (o *Orchestrator) buildCalendarBlock(ctx context.Context, agent *models.Agent, user *models.User, calCfg models.CalendarConfig, loc *time.Location) string {
	var b strings.Builder
	b.WriteString("Calendar is connected.\n")
	if len(calCfg.WorkingHours) > 0 {
		b.WriteString("Working hours:\n")
		for _, wh := range calCfg.WorkingHours {
			if wh.Closed {
				fmt.Fprintf(&b, "- weekday %d: closed\n", wh.Weekday)
			} else {
				fmt.Fprintf(&b, "- weekday %d: %s-%s\n", wh.Weekday, wh.Open, wh.Close)
			}
		}
	}
	if calCfg.AppointmentInstruction != "" {
		b.WriteString(calCfg.AppointmentInstruction)
		b.WriteString("\n")
	}

	var appts []models.Appointment
	o.db.WithContext(ctx).Where("agent_id = ? AND user_id = ? AND status = ? AND start_time > ?",
		agent.ID, user.ID, models.AppointmentScheduled, time.Now()).
		Order("start_time ASC").Find(&appts)
	if len(appts) > 0 {
		b.WriteString("Upcoming appointments:\n")
		for _, a := range appts {
			fmt.Fprintf(&b, "- id=%s %s \"%s\"\n", a.ID, a.StartTime.In(loc).Format("2006-01-02 15:04"), a.Title)
		}
	}
	return b.String()
}

// selectHistory implements spec §4.3's history-selection rule: summary +
// tail when a ConversationContextSummary exists, otherwise the last
// max_history_messages raw messages. The current batch is excluded by the
// caller (pending messages are fed as the turn's UserContent, not history).
func (o *Orchestrator) selectHistory(ctx context.Context, agent *models.Agent, conv *models.Conversation) ([]llm.ChatMessage, error) {
	cfg := agent.ContextSummaryConfig()

	var summary models.ConversationContextSummary
	err := o.db.WithContext(ctx).Where("conversation_id = ?", conv.ID).First(&summary).Error
	if err == nil {
		return o.historyWithSummary(ctx, conv, &summary, cfg.MessagesAfterSummary)
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("load context summary: %w", err)
	}

	maxHist := cfg.MaxHistoryMessages
	if maxHist <= 0 {
		maxHist = 20
	}
	return o.rawHistory(ctx, conv, maxHist)
}

func (o *Orchestrator) historyWithSummary(ctx context.Context, conv *models.Conversation, summary *models.ConversationContextSummary, afterN int) ([]llm.ChatMessage, error) {
	if afterN <= 0 {
		afterN = 10
	}

	var tail []models.Message
	q := o.db.WithContext(ctx).Where("conversation_id = ?", conv.ID)
	var covered models.Message
	if err := o.db.WithContext(ctx).First(&covered, "id = ?", summary.LastMessageIDCovered).Error; err == nil {
		q = q.Where("created_at > ?", covered.CreatedAt)
	}
	if err := q.Order("created_at DESC").Limit(afterN).Find(&tail).Error; err != nil {
		return nil, fmt.Errorf("load post-summary tail: %w", err)
	}
	reverse(tail)

	history := make([]llm.ChatMessage, 0, len(tail)+2)
	history = append(history, llm.ChatMessage{Role: llm.RoleUser, Text: "Conversation summary so far:\n" + summary.SummaryText})
	history = append(history, llm.ChatMessage{Role: llm.RoleAssistant, Text: "Understood, I have the context."})
	for _, m := range tail {
		history = append(history, toChatMessage(m))
	}
	return history, nil
}

func (o *Orchestrator) rawHistory(ctx context.Context, conv *models.Conversation, maxHist int) ([]llm.ChatMessage, error) {
	var msgs []models.Message
	if err := o.db.WithContext(ctx).Where("conversation_id = ?", conv.ID).Order("created_at DESC").Limit(maxHist).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("load raw history: %w", err)
	}
	reverse(msgs)

	history := make([]llm.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, toChatMessage(m))
	}
	return history, nil
}

func toChatMessage(m models.Message) llm.ChatMessage {
	role := llm.RoleUser
	if m.Role == models.RoleAssistant {
		role = llm.RoleAssistant
	}
	return llm.ChatMessage{Role: role, Text: m.Text}
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

func joinMessages(msgs []models.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "\n")
}

// maybeTriggerContextSummary implements spec §4.3's trigger condition:
// message count past the covered id, OR an estimated-prompt-size
// approach to 90% of the model's declared ceiling.
func (o *Orchestrator) maybeTriggerContextSummary(ctx context.Context, agent *models.Agent, conv *models.Conversation) {
	if o.contextSummarizer == nil {
		return
	}
	cfg := agent.ContextSummaryConfig()
	if !cfg.Enabled {
		return
	}

	var summary models.ConversationContextSummary
	err := o.db.WithContext(ctx).Where("conversation_id = ?", conv.ID).First(&summary).Error

	var uncoveredCount int64
	q := o.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conv.ID)
	var uncoveredChars int64
	charsQ := o.db.WithContext(ctx).Model(&models.Message{}).Where("conversation_id = ?", conv.ID)
	if err == nil {
		var covered models.Message
		if cerr := o.db.WithContext(ctx).First(&covered, "id = ?", summary.LastMessageIDCovered).Error; cerr == nil {
			q = q.Where("created_at > ?", covered.CreatedAt)
			charsQ = charsQ.Where("created_at > ?", covered.CreatedAt)
		}
	}
	q.Count(&uncoveredCount)
	charsQ.Select("COALESCE(SUM(LENGTH(text)),0)").Scan(&uncoveredChars)

	thresholdHit := uncoveredCount >= int64(cfg.MessageThreshold)

	ceiling := providerTokenCeilings[modelProviderFamily(agent.LLMModel)]
	if ceiling == 0 {
		ceiling = 128000
	}
	estimatedTokens := (int64(len(summary.SummaryText)) + uncoveredChars) / tokenCharsPerToken
	sizeHit := float64(estimatedTokens) >= tokenSafetyRatio*float64(ceiling)

	if !thresholdHit && !sizeHit {
		return
	}

	log := logx.With("orchestrator")
	go func(convID uuid.UUID) {
		bgCtx := context.Background()
		if err := o.contextSummarizer.Summarize(bgCtx, convID); err != nil {
			log.Warn().Err(err).Msg("⚠️ context-summary run failed")
		}
	}(conv.ID)
}
