// Package reminder implements the Reminder Engine (C8): materializes a
// booking's ReminderRule schedule into ScheduledReminder rows, and on each
// scheduler tick sends whichever are due. Grounded on the teacher's
// worker/ai_worker.go tick-and-process shape, generalized from a single
// job queue to a (appointment, rule-index) materialization model.
package reminder

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/whatsapp"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// batchSize bounds one tick's worth of reminder sends (spec §4.8).
const batchSize = 50

var hebrewWeekdays = [7]string{"ראשון", "שני", "שלישי", "רביעי", "חמישי", "שישי", "שבת"}

// Engine implements tools.ReminderMaterializer and owns the processing tick.
type Engine struct {
	db      *gorm.DB
	factory *llm.Factory
}

func New(db *gorm.DB, factory *llm.Factory) *Engine {
	return &Engine{db: db, factory: factory}
}

// MaterializeForAppointment inserts one ScheduledReminder per ReminderRule,
// skipping any rule whose computed scheduled_for already passed (spec §4.8:
// "materialization skips rules already past-due at booking time").
func (e *Engine) MaterializeForAppointment(ctx context.Context, agent *models.Agent, appt *models.Appointment) error {
	cfg := agent.ReminderConfig()
	if !cfg.Enabled || len(cfg.Rules) == 0 {
		return nil
	}
	log := logx.With("reminder")
	now := time.Now().UTC()

	// Cancelled rows from an earlier materialization still hold their
	// (appointment_id, rule_index) slot in the unique index; clear them so
	// a reschedule can materialize every rule again.
	if err := e.db.WithContext(ctx).
		Where("appointment_id = ? AND status = ?", appt.ID, models.ReminderCancelled).
		Delete(&models.ScheduledReminder{}).Error; err != nil {
		return err
	}

	for idx, rule := range cfg.Rules {
		scheduledFor := appt.StartTime.Add(-time.Duration(rule.MinutesBefore) * time.Minute)
		if !scheduledFor.After(now) {
			log.Debug().Str("appointment_id", appt.ID.String()).Int("rule_index", idx).Msg("⏭️ skipping already-past-due reminder rule")
			continue
		}

		row := models.ScheduledReminder{
			AppointmentID: appt.ID,
			AgentID:       agent.ID,
			UserID:        appt.UserID,
			ScheduledFor:  scheduledFor,
			Status:        models.ReminderPending,
			ContentType:   models.ReminderContentType(rule.ContentType),
			Template:      rule.Template,
			AIPrompt:      rule.AIPrompt,
			RuleIndex:     idx,
		}
		if row.ContentType == "" {
			row.ContentType = models.ReminderContentTemplate
		}
		if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
			log.Warn().Err(err).Int("rule_index", idx).Msg("⚠️ failed to materialize reminder")
		}
	}
	return nil
}

// CancelForAppointment marks every still-pending reminder for a booking as
// cancelled, called on cancel/reschedule before re-materializing.
func (e *Engine) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error {
	return e.db.WithContext(ctx).Model(&models.ScheduledReminder{}).
		Where("appointment_id = ? AND status = ?", appointmentID, models.ReminderPending).
		Update("status", models.ReminderCancelled).Error
}

// ProcessDue claims up to batchSize due reminders and sends each, called
// from the scheduler tick. Invariant I4 ("no two reminders with the same
// (appointment, rule-index) may both reach sent status") holds because the
// unique index on (appointment_id, rule_index) admits at most one row per
// pair, and the pending->processing claim below is a single conditional
// UPDATE per row.
func (e *Engine) ProcessDue(ctx context.Context, now time.Time) {
	log := logx.With("reminder")

	var due []models.ScheduledReminder
	if err := e.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.ReminderPending, now).
		Order("scheduled_for ASC").
		Limit(batchSize).
		Find(&due).Error; err != nil {
		log.Error().Err(err).Msg("❌ failed to query due reminders")
		return
	}

	for _, r := range due {
		e.processOne(ctx, r)
	}
}

func (e *Engine) processOne(ctx context.Context, r models.ScheduledReminder) {
	log := logx.With("reminder")

	claim := e.db.WithContext(ctx).Model(&models.ScheduledReminder{}).
		Where("id = ? AND status = ?", r.ID, models.ReminderPending).
		Update("status", models.ReminderProcessing)
	if claim.Error != nil || claim.RowsAffected == 0 {
		return
	}

	var appt models.Appointment
	var agent models.Agent
	var user models.User
	if err := e.db.WithContext(ctx).First(&appt, "id = ?", r.AppointmentID).Error; err != nil {
		e.fail(ctx, r.ID, "appointment not found: "+err.Error())
		return
	}
	if appt.Status != models.AppointmentScheduled {
		e.db.WithContext(ctx).Model(&models.ScheduledReminder{}).Where("id = ?", r.ID).Update("status", models.ReminderCancelled)
		return
	}
	if err := e.db.WithContext(ctx).First(&agent, "id = ?", r.AgentID).Error; err != nil {
		e.fail(ctx, r.ID, "agent not found: "+err.Error())
		return
	}
	if err := e.db.WithContext(ctx).First(&user, "id = ?", r.UserID).Error; err != nil {
		e.fail(ctx, r.ID, "user not found: "+err.Error())
		return
	}

	content, err := e.buildContent(ctx, &r, &agent, &appt, &user)
	if err != nil {
		e.fail(ctx, r.ID, err.Error())
		return
	}

	// Free-text reminders are only sent on WaSender; Meta requires an
	// approved template path the reminder engine does not implement (spec
	// §9 open question, resolved by keeping this restriction rather than
	// guessing at a template schema no variant of the source specified).
	if agent.Provider == models.ProviderMeta {
		e.fail(ctx, r.ID, "meta provider requires templates (not implemented)")
		return
	}

	sender := e.senderFor(&agent)
	if sender == nil {
		e.fail(ctx, r.ID, "no outbound sender configured")
		return
	}
	if err := sender.SendText(ctx, user.Phone, content); err != nil {
		e.fail(ctx, r.ID, "send failed: "+err.Error())
		return
	}

	now := time.Now().UTC()
	if err := e.db.WithContext(ctx).Model(&models.ScheduledReminder{}).
		Where("id = ?", r.ID).
		Updates(map[string]any{"status": models.ReminderSent, "sent_at": now}).Error; err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to mark reminder sent")
	}

	msg := models.Message{
		ConversationID: e.conversationIDFor(ctx, agent.ID, user.ID),
		Role:           models.RoleAssistant,
		ContentType:    models.ContentReminder,
		Text:           content,
	}
	if msg.ConversationID != uuid.Nil {
		e.db.WithContext(ctx).Create(&msg)
	}
}

func (e *Engine) conversationIDFor(ctx context.Context, agentID, userID uuid.UUID) uuid.UUID {
	var conv models.Conversation
	if err := e.db.WithContext(ctx).Where("agent_id = ? AND user_id = ?", agentID, userID).First(&conv).Error; err != nil {
		return uuid.Nil
	}
	return conv.ID
}

func (e *Engine) fail(ctx context.Context, id uuid.UUID, reason string) {
	log := logx.With("reminder")
	if len(reason) > 480 {
		reason = reason[:480]
	}
	if err := e.db.WithContext(ctx).Model(&models.ScheduledReminder{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": models.ReminderFailed, "error_message": reason}).Error; err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to mark reminder failed")
	}
}

// senderFor only ever sees WaSender agents: the Meta branch is rejected
// by the template-only guard in processOne before this is called.
func (e *Engine) senderFor(agent *models.Agent) whatsapp.Sender {
	if agent.Provider != models.ProviderWaSender {
		return nil
	}
	if agent.WaSenderAPIKey == "" || agent.WaSenderSession == "" {
		return nil
	}
	return whatsapp.NewWaSenderClient(agent.WaSenderAPIKey, agent.WaSenderSession)
}

// buildContent renders a reminder's text per its content type: literal
// {variable} substitution for templates, or an AI-generated message styled
// by the rule's prompt plus recent conversation history (spec §4.8).
func (e *Engine) buildContent(ctx context.Context, r *models.ScheduledReminder, agent *models.Agent, appt *models.Appointment, user *models.User) (string, error) {
	vars := reminderVariables(agent, appt, user)

	if r.ContentType == models.ReminderContentAI {
		return e.generateAIContent(ctx, agent, r.AIPrompt, vars)
	}
	return substituteTemplate(r.Template, vars), nil
}

func reminderVariables(agent *models.Agent, appt *models.Appointment, user *models.User) map[string]string {
	loc := agentLocation(agent.Timezone)
	start := appt.StartTime.In(loc)
	duration := appt.EndTime.Sub(appt.StartTime)

	return map[string]string{
		"customer_name":  user.DisplayName,
		"customer_phone": user.Phone,
		"title":          appt.Title,
		"description":    appt.Description,
		"date":           start.Format("02/01/2006"),
		"time":           start.Format("15:04"),
		"day":            hebrewWeekdays[int(start.Weekday())],
		"duration":       duration.String(),
		"agent_name":     agent.Name,
	}
}

func substituteTemplate(tpl string, vars map[string]string) string {
	out := tpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func (e *Engine) generateAIContent(ctx context.Context, agent *models.Agent, aiPrompt string, vars map[string]string) (string, error) {
	provider, err := e.factory.ProviderFor(agent.LLMModel)
	if err != nil {
		return "", err
	}
	system := "You write a single short WhatsApp appointment reminder message in the conversation's dominant language. Be warm and concise."
	prompt := substituteTemplate(aiPrompt, vars)
	if prompt == "" {
		prompt = "Write a reminder for the appointment \"" + vars["title"] + "\" with " + vars["customer_name"] + " on " + vars["day"] + " " + vars["date"] + " at " + vars["time"] + "."
	}
	return provider.GenerateSimpleResponse(ctx, system, prompt)
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
