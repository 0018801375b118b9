package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/genfity/wa-agent-core/internal/core/calendar"
	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/vector"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

const (
	minAppointmentMinutes = 5
	maxAppointmentMinutes = 480
)

func (e *Executor) updateUserInfo(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	var user models.User
	if err := e.db.WithContext(ctx).First(&user, "id = ?", e.userID).Error; err != nil {
		return llm.ToolResult{}, err
	}

	updates := map[string]any{}
	if name := argString(args, "display_name"); name != "" {
		updates["display_name"] = name
		user.DisplayName = name
	}
	if gender := argString(args, "gender"); gender != "" {
		updates["gender"] = gender
		user.Gender = models.Gender(gender)
	}
	if meta, ok := args["metadata"].(map[string]any); ok && len(meta) > 0 {
		merged := map[string]any{}
		_ = json.Unmarshal(user.MetadataJSON, &merged)
		for k, v := range meta {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return llm.ToolResult{}, err
		}
		updates["metadata"] = raw
	}
	if len(updates) == 0 {
		return llm.ToolResult{Text: "no changes supplied"}, nil
	}

	if err := e.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", e.userID).Updates(updates).Error; err != nil {
		return llm.ToolResult{}, err
	}
	return llm.ToolResult{Text: "user info updated"}, nil
}

func (e *Executor) searchKnowledge(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	query := argString(args, "query")
	var items []models.KnowledgeItem
	if err := e.db.WithContext(ctx).Where("agent_id = ? AND type = ?", e.agent.ID, models.KnowledgeFAQ).
		Limit(50).Find(&items).Error; err != nil {
		return llm.ToolResult{}, err
	}

	if e.embedder != nil && query != "" {
		items = rankByEmbedding(ctx, e.embedder, query, items)
	}

	if len(items) == 0 {
		return llm.ToolResult{Text: "no matching knowledge base entries found"}, nil
	}

	limit := 5
	if len(items) < limit {
		limit = len(items)
	}
	text := ""
	for _, it := range items[:limit] {
		text += fmt.Sprintf("Q: %s\nA: %s\n\n", it.Question, it.Answer)
	}
	return llm.ToolResult{Text: text}, nil
}

// queryProducts supports the original tool's two-part shape (ai_config.py's
// query_products: free-text "search" plus an op-based "filters" object,
// backed by tables.py's query_table). Filters apply over the catalog's fixed
// columns (name, description, price) rather than the original's arbitrary
// per-row JSON columns, since this catalog has no dynamic-table upload path
// (spec Non-goal: no CSV ingestion). aggregate_table's sum/avg/min/max/count
// is not wired here: ai_config.py never exposes it on this tool's own
// input_schema either, only query_table's filters are AI-facing.
func (e *Executor) queryProducts(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	query := e.db.WithContext(ctx).Where("agent_id = ? AND type = ?", e.agent.ID, models.KnowledgeProduct)
	search := argString(args, "search")
	if search == "" {
		search = argString(args, "query") // accept the old bare-query shape too
	}
	if search != "" {
		query = query.Where("name ILIKE ? OR description ILIKE ?", "%"+search+"%", "%"+search+"%")
	}

	var items []models.KnowledgeItem
	if err := query.Limit(200).Find(&items).Error; err != nil {
		return llm.ToolResult{}, err
	}

	if filters, ok := args["filters"].(map[string]any); ok && len(filters) > 0 {
		items = applyProductFilters(items, filters)
	}

	if len(items) == 0 {
		return llm.ToolResult{Text: "no matching products found"}, nil
	}

	limit := 50
	if len(items) < limit {
		limit = len(items)
	}
	text := ""
	for _, it := range items[:limit] {
		text += fmt.Sprintf("%s — %s\n%s\n\n", it.Name, it.Price, it.Description)
	}
	return llm.ToolResult{Text: text}, nil
}

// applyProductFilters mirrors tables.py's query_table: each filter value is
// either a bare scalar (implicit "eq") or an {"op": ..., "value": ...} dict.
func applyProductFilters(items []models.KnowledgeItem, filters map[string]any) []models.KnowledgeItem {
	for field, raw := range filters {
		op, val := "eq", raw
		if m, ok := raw.(map[string]any); ok {
			if o, ok := m["op"].(string); ok && o != "" {
				op = o
			}
			val = m["value"]
		}
		filtered := make([]models.KnowledgeItem, 0, len(items))
		for _, it := range items {
			if matchesProductFilter(it, field, op, val) {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	return items
}

func matchesProductFilter(it models.KnowledgeItem, field, op string, val any) bool {
	var current string
	switch field {
	case "name":
		current = it.Name
	case "description":
		current = it.Description
	case "price":
		current = it.Price
	default:
		return false
	}

	switch op {
	case "contains":
		return strings.Contains(strings.ToLower(current), strings.ToLower(fmt.Sprint(val)))
	case "eq":
		return strings.EqualFold(current, fmt.Sprint(val))
	case "gt", "lt", "gte", "lte":
		currentNum, err := strconv.ParseFloat(strings.TrimSpace(current), 64)
		if err != nil {
			return false
		}
		target, ok := numericValue(val)
		if !ok {
			return false
		}
		switch op {
		case "gt":
			return currentNum > target
		case "lt":
			return currentNum < target
		case "gte":
			return currentNum >= target
		case "lte":
			return currentNum <= target
		}
	}
	return false
}

func numericValue(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func rankByEmbedding(ctx context.Context, embedder vector.EmbeddingProvider, query string, items []models.KnowledgeItem) []models.KnowledgeItem {
	qv, err := embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return items
	}
	sort.SliceStable(items, func(i, j int) bool {
		return vector.CosineSimilarity(qv, items[i].Embedding) > vector.CosineSimilarity(qv, items[j].Embedding)
	})
	return items
}

func (e *Executor) checkAvailability(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	start, err := parseRFC3339(argString(args, "start"))
	if err != nil {
		return llm.ToolResult{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := parseRFC3339(argString(args, "end"))
	if err != nil {
		return llm.ToolResult{}, fmt.Errorf("invalid end: %w", err)
	}

	var overlaps []models.Appointment
	if err := e.db.WithContext(ctx).Where(
		"agent_id = ? AND status = ? AND start_time < ? AND end_time > ?",
		e.agent.ID, models.AppointmentScheduled, end, start,
	).Find(&overlaps).Error; err != nil {
		return llm.ToolResult{}, err
	}

	if len(overlaps) == 0 {
		return llm.ToolResult{Text: "the full window is free"}, nil
	}
	text := "busy periods in this window:\n"
	for _, o := range overlaps {
		text += fmt.Sprintf("- %s to %s\n", o.StartTime.Format(time.RFC3339), o.EndTime.Format(time.RFC3339))
	}
	return llm.ToolResult{Text: text}, nil
}

// hasConflict runs spec §4.5's book_appointment/reschedule_appointment
// conflict query: overlap against scheduled appointments of the same agent
// over [start, end), optionally excluding one appointment id (reschedule).
func (e *Executor) hasConflict(ctx context.Context, start, end time.Time, excludeID *uuid.UUID) (bool, error) {
	q := e.db.WithContext(ctx).Model(&models.Appointment{}).Where(
		"agent_id = ? AND status = ? AND start_time < ? AND end_time > ?",
		e.agent.ID, models.AppointmentScheduled, end, start,
	)
	if excludeID != nil {
		q = q.Where("id <> ?", *excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (e *Executor) bookAppointment(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	start, err := parseRFC3339(argString(args, "start_time"))
	if err != nil {
		return llm.ToolResult{}, fmt.Errorf("invalid start_time: %w", err)
	}
	duration := argInt(args, "duration_minutes")

	if !start.After(time.Now()) {
		return llm.ToolResult{Text: "לא ניתן לקבוע תור בעבר, אנא בחר מועד עתידי."}, nil
	}
	if duration < minAppointmentMinutes || duration > maxAppointmentMinutes {
		return llm.ToolResult{Text: "משך התור חייב להיות בין 5 ל-480 דקות."}, nil
	}

	end := start.Add(time.Duration(duration) * time.Minute)
	conflict, err := e.hasConflict(ctx, start, end, nil)
	if err != nil {
		return llm.ToolResult{}, err
	}
	if conflict {
		return llm.ToolResult{Text: "המועד הזה כבר תפוס, אנא הצע מועד אחר."}, nil
	}

	appt := models.Appointment{
		AgentID:     e.agent.ID,
		UserID:      e.userID,
		StartTime:   start,
		EndTime:     end,
		Title:       argString(args, "title"),
		Description: argString(args, "description"),
		Status:      models.AppointmentScheduled,
	}

	calCfg := e.agent.CalendarConfig()
	if e.calendar != nil && calCfg.Enabled && calCfg.GoogleTokens != nil {
		externalID, err := e.calendar.CreateEvent(ctx, calCfg.GoogleTokens, calCfg.CalendarID, calendar.Event{
			Summary:     appt.Title,
			Description: appt.Description,
			Start:       start,
			End:         end,
		})
		if err != nil {
			logCalendarFailure("create", err)
		} else {
			appt.ExternalCalendarEventID = externalID
		}
	}

	if err := e.db.WithContext(ctx).Create(&appt).Error; err != nil {
		return llm.ToolResult{}, err
	}

	if e.reminders != nil {
		if err := e.reminders.MaterializeForAppointment(ctx, e.agent, &appt); err != nil {
			logCalendarFailure("materialize reminders", err)
		}
	}

	if e.webhook != nil {
		var user models.User
		_ = e.db.WithContext(ctx).First(&user, "id = ?", e.userID).Error
		if err := e.webhook.Send(ctx, "created", e.agent, &appt, &user); err != nil {
			logCalendarFailure("appointment webhook", err)
		}
	}

	return llm.ToolResult{Text: fmt.Sprintf("התור נקבע בהצלחה ל-%s (מזהה: %s).", start.Format("02/01/2006 15:04"), appt.ID)}, nil
}

func (e *Executor) getMyAppointments(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	var appts []models.Appointment
	if err := e.db.WithContext(ctx).Where(
		"agent_id = ? AND user_id = ? AND status = ? AND start_time > ?",
		e.agent.ID, e.userID, models.AppointmentScheduled, time.Now(),
	).Order("start_time asc").Find(&appts).Error; err != nil {
		return llm.ToolResult{}, err
	}

	if len(appts) == 0 {
		return llm.ToolResult{Text: "no upcoming appointments"}, nil
	}
	text := ""
	for _, a := range appts {
		text += fmt.Sprintf("%s — %s (id: %s)\n", a.StartTime.Format(time.RFC3339), a.Title, a.ID)
	}
	return llm.ToolResult{Text: text}, nil
}

// loadOwnedAppointment verifies the appointment belongs to the invoking
// user (spec §4.5: "must verify the appointment belongs to the invoking
// user").
func (e *Executor) loadOwnedAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	apptID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid appointment_id: %w", err)
	}
	var appt models.Appointment
	if err := e.db.WithContext(ctx).Where("id = ? AND agent_id = ? AND user_id = ?", apptID, e.agent.ID, e.userID).
		First(&appt).Error; err != nil {
		return nil, err
	}
	return &appt, nil
}

func (e *Executor) cancelAppointment(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	appt, err := e.loadOwnedAppointment(ctx, argString(args, "appointment_id"))
	if err != nil {
		return llm.ToolResult{Text: "לא נמצא תור כזה."}, nil
	}

	appt.Status = models.AppointmentCancelled
	if err := e.db.WithContext(ctx).Save(appt).Error; err != nil {
		return llm.ToolResult{}, err
	}

	if e.reminders != nil {
		if err := e.reminders.CancelForAppointment(ctx, appt.ID); err != nil {
			logCalendarFailure("cancel reminders", err)
		}
	}

	calCfg := e.agent.CalendarConfig()
	if e.calendar != nil && calCfg.Enabled && calCfg.GoogleTokens != nil && appt.ExternalCalendarEventID != "" {
		if err := e.calendar.CancelEvent(ctx, calCfg.GoogleTokens, calCfg.CalendarID, appt.ExternalCalendarEventID); err != nil {
			logCalendarFailure("cancel event", err)
		}
	}

	if e.webhook != nil {
		var user models.User
		_ = e.db.WithContext(ctx).First(&user, "id = ?", e.userID).Error
		if err := e.webhook.Send(ctx, "cancelled", e.agent, appt, &user); err != nil {
			logCalendarFailure("appointment webhook", err)
		}
	}

	return llm.ToolResult{Text: "התור בוטל בהצלחה."}, nil
}

func (e *Executor) rescheduleAppointment(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	appt, err := e.loadOwnedAppointment(ctx, argString(args, "appointment_id"))
	if err != nil {
		return llm.ToolResult{Text: "לא נמצא תור כזה."}, nil
	}

	newStart, err := parseRFC3339(argString(args, "new_start_time"))
	if err != nil {
		return llm.ToolResult{}, fmt.Errorf("invalid new_start_time: %w", err)
	}
	duration := argInt(args, "duration_minutes")
	if duration < minAppointmentMinutes || duration > maxAppointmentMinutes {
		return llm.ToolResult{Text: "משך התור חייב להיות בין 5 ל-480 דקות."}, nil
	}
	newEnd := newStart.Add(time.Duration(duration) * time.Minute)

	conflict, err := e.hasConflict(ctx, newStart, newEnd, &appt.ID)
	if err != nil {
		return llm.ToolResult{}, err
	}
	if conflict {
		return llm.ToolResult{Text: "המועד החדש תפוס, אנא הצע מועד אחר."}, nil
	}

	appt.StartTime = newStart
	appt.EndTime = newEnd
	if err := e.db.WithContext(ctx).Save(appt).Error; err != nil {
		return llm.ToolResult{}, err
	}

	calCfg := e.agent.CalendarConfig()
	if e.calendar != nil && calCfg.Enabled && calCfg.GoogleTokens != nil && appt.ExternalCalendarEventID != "" {
		if err := e.calendar.UpdateEvent(ctx, calCfg.GoogleTokens, calCfg.CalendarID, calendar.Event{
			ID: appt.ExternalCalendarEventID, Summary: appt.Title, Description: appt.Description,
			Start: newStart, End: newEnd,
		}); err != nil {
			logCalendarFailure("update event", err)
		}
	}

	// Re-materialize reminders from scratch, per spec §4.5.
	if e.reminders != nil {
		if err := e.reminders.CancelForAppointment(ctx, appt.ID); err != nil {
			logCalendarFailure("cancel reminders before reschedule", err)
		}
		if err := e.reminders.MaterializeForAppointment(ctx, e.agent, appt); err != nil {
			logCalendarFailure("rematerialize reminders", err)
		}
	}

	if e.webhook != nil {
		var user models.User
		_ = e.db.WithContext(ctx).First(&user, "id = ?", e.userID).Error
		if err := e.webhook.Send(ctx, "updated", e.agent, appt, &user); err != nil {
			logCalendarFailure("appointment webhook", err)
		}
	}

	return llm.ToolResult{Text: fmt.Sprintf("התור הוזז בהצלחה ל-%s.", newStart.Format("02/01/2006 15:04"))}, nil
}

func (e *Executor) sendMedia(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	mediaIDStr := argString(args, "media_id")
	mediaID, err := uuid.Parse(mediaIDStr)
	if err != nil {
		return llm.ToolResult{Text: "מזהה המדיה אינו תקין."}, nil
	}

	var media models.AgentMedia
	if err := e.db.WithContext(ctx).Where("id = ? AND agent_id = ? AND active = ?", mediaID, e.agent.ID, true).
		First(&media).Error; err != nil {
		return llm.ToolResult{Text: "המדיה לא נמצאה או אינה זמינה."}, nil
	}

	mediaCfg := e.agent.MediaConfig()
	if !mediaCfg.AllowDuplicateInConversation {
		var alreadySent int64
		e.db.WithContext(ctx).Model(&models.Message{}).
			Where("conversation_id = ? AND media_id = ?", e.conversationID, mediaIDStr).
			Count(&alreadySent)
		if alreadySent > 0 {
			return llm.ToolResult{Text: "המדיה הזו כבר נשלחה בשיחה הזו."}, nil
		}
	}

	if e.sentMediaIDs[mediaIDStr] {
		return llm.ToolResult{Text: "המדיה הזו כבר נשלחה בהודעה הנוכחית."}, nil
	}
	e.sentMediaIDs[mediaIDStr] = true

	caption := argString(args, "caption")
	if caption == "" {
		caption = media.DefaultCaption
	}

	return llm.ToolResult{
		Text:  "media sent",
		Media: &llm.MediaAction{MediaID: mediaIDStr, Caption: caption},
	}, nil
}

func (e *Executor) searchMedia(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	query := argString(args, "query")
	var items []models.AgentMedia
	if err := e.db.WithContext(ctx).Where("agent_id = ? AND active = ?", e.agent.ID, true).
		Limit(50).Find(&items).Error; err != nil {
		return llm.ToolResult{}, err
	}
	if len(items) == 0 {
		return llm.ToolResult{Text: "no media found"}, nil
	}

	if e.embedder != nil && query != "" {
		qv, err := e.embedder.GenerateEmbedding(ctx, query)
		if err == nil {
			sort.SliceStable(items, func(i, j int) bool {
				return vector.CosineSimilarity(qv, items[i].Embedding) > vector.CosineSimilarity(qv, items[j].Embedding)
			})
		}
	}

	limit := 5
	if len(items) < limit {
		limit = len(items)
	}
	text := ""
	for _, it := range items[:limit] {
		text += fmt.Sprintf("%s (id: %s): %s\n", it.DisplayName, it.ID, it.DefaultCaption)
	}
	return llm.ToolResult{Text: text}, nil
}

func (e *Executor) optOutConversation(ctx context.Context, args map[string]any) (llm.ToolResult, error) {
	if err := e.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", e.conversationID).
		Update("opted_out", true).Error; err != nil {
		return llm.ToolResult{}, err
	}
	return llm.ToolResult{Text: "לא יישלחו יותר הודעות יזומות עד שתכתוב שוב."}, nil
}

func logCalendarFailure(op string, err error) {
	logx.With("tools").Warn().Err(err).Str("op", op).Msg("⚠️ calendar/webhook best-effort step failed")
}
