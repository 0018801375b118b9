// Package followup implements the Follow-up Engine (C10): re-engages
// customers who went silent after an assistant reply, driven by the timer
// sorted-set C3 writes into on each turn. Grounded on the teacher's
// worker/ai_worker.go tick-driven batch processor, generalized with
// bounded concurrency via golang.org/x/sync/errgroup since each follow-up
// decision is an independent LLM call.
package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/whatsapp"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/kv"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

const (
	timerSetKey      = "followup:timers"
	drainLimit       = 100
	maxConcurrency   = 10
	minMessagesFloor = 1
)

// Engine drains due follow-up timers and processes materialized steps.
type Engine struct {
	db      *gorm.DB
	kv      kv.Store
	factory *llm.Factory
}

func New(db *gorm.DB, store kv.Store, factory *llm.Factory) *Engine {
	return &Engine{db: db, kv: store, factory: factory}
}

// Tick drains due timers, materializes an eligible ScheduledFollowup for
// each, and processes every due pending follow-up with bounded
// concurrency. Called once per scheduler cycle (spec §4.7/§4.10).
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.drainAndMaterialize(ctx, now)
	e.processPending(ctx, now)
}

func (e *Engine) drainAndMaterialize(ctx context.Context, now time.Time) {
	log := logx.With("followup")
	members, err := e.kv.DrainDueTimers(ctx, timerSetKey, now, drainLimit)
	if err != nil {
		log.Error().Err(err).Msg("❌ failed to drain follow-up timers")
		return
	}
	for _, member := range members {
		agentID, convID, ok := splitMember(member)
		if !ok {
			continue
		}
		e.materialize(ctx, agentID, convID, now)
	}
}

func splitMember(member string) (agentID, conversationID string, ok bool) {
	parts := strings.SplitN(member, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// materialize checks the eligibility conditions in spec §4.10 before
// inserting the next ScheduledFollowup step; any failed check is a silent
// skip (the timer has already been consumed by the drain). Step 0's
// min_messages floor is checked against the conversation's total message
// count.
func (e *Engine) materialize(ctx context.Context, agentIDStr, convIDStr string, now time.Time) {
	log := logx.With("followup")

	var agent models.Agent
	if err := e.db.WithContext(ctx).First(&agent, "id = ?", agentIDStr).Error; err != nil {
		return
	}
	if !agent.Active {
		return
	}
	cfg := agent.FollowupConfig()
	if !cfg.Enabled || len(cfg.Sequence) == 0 {
		return
	}

	var conv models.Conversation
	if err := e.db.WithContext(ctx).First(&conv, "id = ?", convIDStr).Error; err != nil {
		return
	}
	if conv.OptedOut || conv.Paused || conv.LastCustomerMessageAt == nil {
		return
	}

	var stepCount int64
	e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
		Where("conversation_id = ? AND status = ? AND sent_at > ?", conv.ID, models.FollowupSent, *conv.LastCustomerMessageAt).
		Count(&stepCount)
	nextStep := int(stepCount)
	if nextStep >= len(cfg.Sequence) {
		return
	}

	minMessages := cfg.MinMessages
	if minMessages < minMessagesFloor {
		minMessages = minMessagesFloor
	}
	if nextStep == 0 {
		var msgCount int64
		e.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ?", conv.ID).
			Count(&msgCount)
		if int(msgCount) < minMessages {
			return
		}
	}

	var conflict int64
	e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
		Where("conversation_id = ? AND status IN ?", conv.ID, []models.FollowupStatus{models.FollowupPending, models.FollowupEvaluating}).
		Count(&conflict)
	if conflict > 0 {
		return
	}
	var pendingReminder int64
	e.db.WithContext(ctx).Model(&models.ScheduledReminder{}).
		Where("user_id = ? AND agent_id = ? AND status = ?", conv.UserID, agent.ID, models.ReminderPending).
		Count(&pendingReminder)
	if pendingReminder > 0 {
		return
	}

	step := cfg.Sequence[nextStep]
	row := models.ScheduledFollowup{
		ConversationID:  conv.ID,
		AgentID:         agent.ID,
		UserID:          conv.UserID,
		FollowupNumber:  nextStep + 1,
		StepInstruction: step.Instruction,
		ScheduledFor:    now,
		Status:          models.FollowupPending,
	}
	if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to materialize follow-up step")
	}
}

// processPending evaluates every pending follow-up with bounded
// concurrency, each on its own DB handle/context.
func (e *Engine) processPending(ctx context.Context, now time.Time) {
	log := logx.With("followup")

	var due []models.ScheduledFollowup
	if err := e.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.FollowupPending, now).
		Limit(drainLimit).
		Find(&due).Error; err != nil {
		log.Error().Err(err).Msg("❌ failed to query pending follow-ups")
		return
	}
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i := range due {
		row := due[i]
		g.Go(func() error {
			e.processOne(gctx, row, now)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) processOne(ctx context.Context, row models.ScheduledFollowup, now time.Time) {
	log := logx.With("followup")

	claim := e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
		Where("id = ? AND status = ?", row.ID, models.FollowupPending).
		Update("status", models.FollowupEvaluating)
	if claim.Error != nil || claim.RowsAffected == 0 {
		return
	}

	var agent models.Agent
	var conv models.Conversation
	var user models.User
	if err := e.db.WithContext(ctx).First(&agent, "id = ?", row.AgentID).Error; err != nil {
		e.skip(ctx, row.ID, "agent not found")
		return
	}
	if err := e.db.WithContext(ctx).First(&conv, "id = ?", row.ConversationID).Error; err != nil {
		e.skip(ctx, row.ID, "conversation not found")
		return
	}
	if conv.OptedOut || conv.Paused {
		e.skip(ctx, row.ID, "conversation paused or opted out")
		return
	}
	if err := e.db.WithContext(ctx).First(&user, "id = ?", row.UserID).Error; err != nil {
		e.skip(ctx, row.ID, "user not found")
		return
	}

	cfg := agent.FollowupConfig()
	if !e.withinActiveHours(cfg.ActiveHours, agent.Timezone, now) {
		// reschedule 30 minutes out rather than drop the step entirely.
		e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"status": models.FollowupPending, "scheduled_for": now.Add(30 * time.Minute)})
		return
	}

	channel := e.channelFor(&agent, &conv, cfg)
	decision, reason := e.decide(ctx, &agent, &conv, &user, &row, channel == models.SendMetaTemplate)
	if !decision.Send {
		e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"status": models.FollowupSkipped, "ai_reason": reason})
		return
	}

	sender := e.senderFor(&agent)
	if sender == nil {
		e.skip(ctx, row.ID, "no outbound sender configured")
		return
	}

	templateName := decision.TemplateName
	var sendErr error
	if channel == models.SendMetaTemplate {
		if decision.TemplateName == "" {
			e.skip(ctx, row.ID, "AI selected no template")
			return
		}
		sendErr = sender.SendTemplate(ctx, user.Phone, decision.TemplateName, decision.TemplateLanguage, decision.TemplateParams)
	} else {
		sendErr = sender.SendText(ctx, user.Phone, decision.Message)
	}
	if sendErr != nil {
		e.skip(ctx, row.ID, "send failed: "+sendErr.Error())
		return
	}

	sentAt := time.Now().UTC()
	e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"status":        models.FollowupSent,
			"content":       decision.Message,
			"ai_reason":     reason,
			"sent_via":      channel,
			"template_name": templateName,
			"sent_at":       sentAt,
		})

	msg := models.Message{ConversationID: conv.ID, Role: models.RoleAssistant, ContentType: models.ContentFollowup, Text: decision.Message}
	e.db.WithContext(ctx).Create(&msg)

	if row.FollowupNumber < len(cfg.Sequence) {
		next := cfg.Sequence[row.FollowupNumber]
		member := agent.ID.String() + ":" + conv.ID.String()
		_ = e.kv.EnqueueTimer(ctx, timerSetKey, member, time.Now().Add(time.Duration(next.DelayHours*float64(time.Hour))))
	}
}

func (e *Engine) skip(ctx context.Context, id uuid.UUID, reason string) {
	log := logx.With("followup")
	if len(reason) > 480 {
		reason = reason[:480]
	}
	if err := e.db.WithContext(ctx).Model(&models.ScheduledFollowup{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": models.FollowupSkipped, "ai_reason": reason}).Error; err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to mark follow-up skipped")
	}
}

type decisionResult struct {
	Send             bool     `json:"send"`
	Message          string   `json:"content"`
	Reason           string   `json:"reason"`
	TemplateName     string   `json:"template_name"`
	TemplateLanguage string   `json:"template_language"`
	TemplateParams   []string `json:"template_params"`
}

// decide asks the agent's model whether to send this follow-up step and
// with what content, building either the free-text or the template-choice
// prompt depending on the channel the 24-hour window already picked.
// Grounded on followup_evaluator.py's evaluate(): Hebrew-labeled recent
// history, previously-sent follow-up content, and the agent's own
// personality snippet all feed the same decision the AI is asked to make.
// Malformed JSON is treated as a decision not to send (spec §4.10's
// "JSON-tolerant parsing" requirement) — a broken decision should never
// silently ship an empty message.
func (e *Engine) decide(ctx context.Context, agent *models.Agent, conv *models.Conversation, user *models.User, row *models.ScheduledFollowup, needsTemplate bool) (decisionResult, string) {
	log := logx.With("followup")
	cfg := agent.FollowupConfig()
	model := cfg.Model
	if model == "" {
		model = agent.LLMModel
	}
	provider, err := e.factory.ProviderFor(model)
	if err != nil {
		return decisionResult{Send: false}, "no provider available: " + err.Error()
	}

	history := e.buildHistoryContext(ctx, conv.ID)
	prevFollowups := e.buildPrevFollowups(ctx, conv.ID)
	personality := personalitySnippet(agent.SystemPrompt)

	var prompt string
	if needsTemplate {
		templates := e.fetchTemplatesInfo(ctx, agent.ID, cfg.MetaTemplates)
		if len(templates) == 0 {
			return decisionResult{Send: false}, "no approved templates available"
		}
		prompt = buildTemplatePrompt(history, prevFollowups, personality, row.FollowupNumber, len(cfg.Sequence), row.StepInstruction, templates)
	} else {
		prompt = buildFreetextPrompt(history, prevFollowups, personality, row.FollowupNumber, len(cfg.Sequence), row.StepInstruction, user)
	}

	raw, err := provider.GenerateSimpleResponse(ctx, followupSystemPrompt, prompt)
	if err != nil {
		return decisionResult{Send: false}, "llm call failed: " + err.Error()
	}

	decision, err := parseDecision(raw)
	if err != nil {
		log.Warn().Err(err).Str("raw", raw).Msg("⚠️ follow-up decision was not valid JSON")
		return decisionResult{Send: false}, "parse error: " + err.Error()
	}
	return decision, decision.Reason
}

const followupSystemPrompt = `You decide whether to send a WhatsApp follow-up message to a customer who has gone quiet. Reply with ONLY a JSON object. Never invent facts not present in the conversation.`

// parseDecision tolerates a markdown code fence around the JSON object,
// matching followup_evaluator.py's _parse_ai_decision.
func parseDecision(raw string) (decisionResult, error) {
	text := strings.TrimSpace(raw)
	if strings.Contains(text, "```") {
		for _, part := range strings.Split(text, "```") {
			candidate := strings.TrimSpace(part)
			candidate = strings.TrimPrefix(candidate, "json")
			candidate = strings.TrimSpace(candidate)
			if strings.HasPrefix(candidate, "{") {
				text = candidate
				break
			}
		}
	}
	if !strings.HasPrefix(text, "{") {
		text = extractJSON(text)
	}
	var decision decisionResult
	err := json.Unmarshal([]byte(text), &decision)
	return decision, err
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

const historyLimit = 20
const historyCharLimit = 200

// buildHistoryContext matches followup_evaluator.py's _build_history_context:
// Hebrew role labels, content-type prefix for non-text turns, per-message
// 200-char truncation, oldest first.
func (e *Engine) buildHistoryContext(ctx context.Context, conversationID uuid.UUID) string {
	var msgs []models.Message
	e.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at DESC").Limit(historyLimit).Find(&msgs)
	if len(msgs) == 0 {
		return "(אין היסטוריה)"
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	out := ""
	for _, m := range msgs {
		role := "סוכן"
		if m.Role == models.RoleUser {
			role = "לקוח"
		}
		prefix := ""
		if m.ContentType != "" && m.ContentType != models.ContentText {
			prefix = "[" + string(m.ContentType) + "] "
		}
		text := m.Text
		if len(text) > historyCharLimit {
			text = text[:historyCharLimit] + "..."
		}
		out += role + ": " + prefix + text + "\n"
	}
	return strings.TrimRight(out, "\n")
}

// buildPrevFollowups lists this conversation's already-sent follow-up
// content, so the model doesn't repeat itself (followup_evaluator.py's
// _build_prev_followups).
func (e *Engine) buildPrevFollowups(ctx context.Context, conversationID uuid.UUID) string {
	var sent []models.ScheduledFollowup
	e.db.WithContext(ctx).Where("conversation_id = ? AND status = ?", conversationID, models.FollowupSent).
		Order("sent_at ASC").Find(&sent)
	out := ""
	for _, fu := range sent {
		if fu.Content == "" {
			continue
		}
		content := fu.Content
		if len(content) > 150 {
			content = content[:150]
		}
		out += fmt.Sprintf("Follow-up #%d: %s\n", fu.FollowupNumber, content)
	}
	return strings.TrimRight(out, "\n")
}

// personalitySnippet truncates an agent's system prompt to a sentence
// boundary where possible, matching followup_evaluator.py's _get_personality.
func personalitySnippet(systemPrompt string) string {
	const maxChars = 500
	prompt := strings.TrimSpace(systemPrompt)
	if prompt == "" {
		return ""
	}
	if len(prompt) <= maxChars {
		return prompt
	}
	cut := prompt[:maxChars]
	if last := strings.LastIndex(cut, "."); last > maxChars/2 {
		return cut[:last+1]
	}
	return cut + "..."
}

func buildFreetextPrompt(history, prevFollowups, personality string, step, totalSteps int, stepInstruction string, user *models.User) string {
	name := user.DisplayName
	if name == "" {
		name = "הלקוח"
	}
	parts := []string{
		"אתה סוכן מכירות שמחליט אם לשלוח הודעת follow-up ללקוח.",
		"",
		"שם הלקוח: " + name,
		fmt.Sprintf("זה שלב %d מתוך %d ברצף המעקב.", step, totalSteps),
	}
	if stepInstruction != "" {
		parts = append(parts, "", "הנחיית השלב: "+stepInstruction)
	}
	parts = append(parts, "", "היסטוריית השיחה:", history)
	if prevFollowups != "" {
		parts = append(parts, "", "הודעות follow-up קודמות שכבר שלחת:", prevFollowups)
	}
	if personality != "" {
		parts = append(parts, "", "אישיות הסוכן:", personality)
	}
	parts = append(parts,
		"",
		"החלט:",
		"- אם השיחה נגמרה טבעית (הלקוח אמר תודה/ביי) או אמר שלא מעוניין — אל תשלח.",
		"- אם יש סיבה טובה לחזור ללקוח — כתוב הודעה מתאימה.",
		"- ההודעה צריכה להיות קצרה, טבעית, ורלוונטית למה שדובר.",
		"",
		"החזר JSON בלבד:",
		`{"send": true/false, "content": "ההודעה אם send=true", "reason": "למה החלטת"}`,
	)
	return strings.Join(parts, "\n")
}

type templateInfo struct {
	Name     string
	Language string
	Body     string
	Params   []string
}

func buildTemplatePrompt(history, prevFollowups, personality string, step, totalSteps int, stepInstruction string, templates []templateInfo) string {
	parts := []string{
		"אתה סוכן שמחליט אם לשלוח הודעת follow-up ללקוח דרך WhatsApp Template.",
		fmt.Sprintf("זה שלב %d מתוך %d ברצף המעקב.", step, totalSteps),
	}
	if stepInstruction != "" {
		parts = append(parts, "", "הנחיית השלב: "+stepInstruction)
	}
	parts = append(parts, "", "היסטוריית השיחה:", history)
	if prevFollowups != "" {
		parts = append(parts, "", "follow-ups קודמים:", prevFollowups)
	}
	parts = append(parts, "", "Templates זמינים:")
	for _, t := range templates {
		paramsDesc := "(ללא פרמטרים)"
		if len(t.Params) > 0 {
			descs := make([]string, len(t.Params))
			for i, p := range t.Params {
				descs[i] = fmt.Sprintf("{{%d}} = %s", i+1, p)
			}
			paramsDesc = strings.Join(descs, ", ")
		}
		parts = append(parts, fmt.Sprintf(`- "%s" (%s): %s`, t.Name, t.Language, t.Body))
		parts = append(parts, "  פרמטרים: "+paramsDesc)
	}
	parts = append(parts,
		"",
		"החלט איזה template הכי מתאים לקונטקסט של השיחה.",
		"מלא את הפרמטרים בהתאם למידע מהשיחה.",
		"",
		"החזר JSON בלבד:",
		`{"send": true/false, "template_name": "שם", "template_language": "he", "template_params": ["ערך1", "ערך2"], "reason": "למה"}`,
	)
	return strings.Join(parts, "\n")
}

// fetchTemplatesInfo resolves the agent's configured template refs against
// its approved WhatsAppTemplate rows, matching followup_evaluator.py's
// _fetch_templates_info (the original's WhatsAppTemplate.status == "APPROVED"
// filter has no Go equivalent: this model only ever stores approved rows,
// spec §4.10).
func (e *Engine) fetchTemplatesInfo(ctx context.Context, agentID uuid.UUID, refs []models.MetaTemplateRef) []templateInfo {
	var out []templateInfo
	for _, ref := range refs {
		lang := ref.Language
		if lang == "" {
			lang = "he"
		}
		var tpl models.WhatsAppTemplate
		if err := e.db.WithContext(ctx).Where("agent_id = ? AND name = ? AND language = ?", agentID, ref.Name, lang).First(&tpl).Error; err != nil {
			continue
		}
		out = append(out, templateInfo{Name: ref.Name, Language: lang, Body: tpl.Body, Params: tpl.ParamKeys})
	}
	return out
}

// withinActiveHours supports cross-midnight windows (spec §4.10: "10:00-04:00").
func (e *Engine) withinActiveHours(ah models.ActiveHours, tz string, now time.Time) bool {
	if ah.Start == "" || ah.End == "" {
		return true
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	start := parseHHMM(ah.Start)
	end := parseHHMM(ah.End)
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseHHMM(s string) int {
	var h, m int
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h = atoiSafe(parts[0])
	m = atoiSafe(parts[1])
	return h*60 + m
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// channelFor applies Meta's 24-hour customer-service-window rule: outside
// the window, a Meta provider uses an approved template (spec §4.10); if
// the agent has no meta templates configured, free text is returned
// instead. WaSender has no such restriction and always sends free text. Which
// template is actually used is the AI's decision (decide), not this check's.
func (e *Engine) channelFor(agent *models.Agent, conv *models.Conversation, cfg models.FollowupConfig) models.SendChannel {
	if agent.Provider != models.ProviderMeta {
		return models.SendFreeText
	}
	if conv.LastCustomerMessageAt != nil && time.Since(*conv.LastCustomerMessageAt) < 24*time.Hour {
		return models.SendFreeText
	}
	if len(cfg.MetaTemplates) == 0 {
		return models.SendFreeText
	}
	return models.SendMetaTemplate
}

func (e *Engine) senderFor(agent *models.Agent) whatsapp.Sender {
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
