// Package tools implements the Tool Executor (C5): the fixed catalog of
// model-invoked tools, each a typed handler bound to (db, agent, user_id,
// conversation_id). Dispatch follows the teacher's
// internal/core/workflow/action.go switch-on-type pattern, generalized
// from workflow Action.Type strings to llm.ToolCall.Name.
package tools

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/calendar"
	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/vector"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// ReminderMaterializer is implemented by the Reminder Engine (C8) and
// invoked by book_appointment/reschedule_appointment to (re)materialize a
// booking's reminder rows, keeping C5 free of a direct dependency on C8's
// scheduling internals.
type ReminderMaterializer interface {
	MaterializeForAppointment(ctx context.Context, agent *models.Agent, appt *models.Appointment) error
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) error
}

// AppointmentWebhookSender delivers the `appointment.created` /
// `cancelled` / `updated` webhook described in spec §6.
type AppointmentWebhookSender interface {
	Send(ctx context.Context, event string, agent *models.Agent, appt *models.Appointment, user *models.User) error
}

// Executor binds the tool catalog to one request's context: the database,
// the invoking agent, and the (user, conversation) pair the LLM turn is
// for. A fresh Executor is built per orchestrator turn (spec §4.5: "pure
// w.r.t. its arguments plus the bound context").
type Executor struct {
	db             *gorm.DB
	agent          *models.Agent
	userID         uuid.UUID
	conversationID uuid.UUID

	calendar  calendar.Client
	reminders ReminderMaterializer
	webhook   AppointmentWebhookSender
	embedder  vector.EmbeddingProvider

	// sentMediaIDs dedupes send_media within one batch/turn (spec §4.3
	// "dedupes by media-id within a batch").
	sentMediaIDs map[string]bool
}

// New builds an Executor for one orchestrator turn.
func New(db *gorm.DB, agent *models.Agent, userID, conversationID uuid.UUID, cal calendar.Client, reminders ReminderMaterializer, webhook AppointmentWebhookSender, embedder vector.EmbeddingProvider) *Executor {
	return &Executor{
		db:             db,
		agent:          agent,
		userID:         userID,
		conversationID: conversationID,
		calendar:       cal,
		reminders:      reminders,
		webhook:        webhook,
		embedder:       embedder,
		sentMediaIDs:   make(map[string]bool),
	}
}

// Specs returns the canonical tool catalog, fixed and known to the model
// (spec §4.5).
func Specs() []llm.ToolSpec {
	return []llm.ToolSpec{
		{Name: "update_user_info", Description: "Update the customer's display name, gender, or metadata.", Parameters: objectSchema(map[string]any{
			"display_name": stringProp("Customer's display name, if known."),
			"gender":       stringProp("One of: male, female, unknown."),
			"metadata":     map[string]any{"type": "object", "description": "Free-form key/value metadata."},
		}, nil)},
		{Name: "search_knowledge", Description: "Search the agent's FAQ knowledge base for an answer to a question.", Parameters: objectSchema(map[string]any{
			"query": stringProp("The customer's question."),
		}, []string{"query"})},
		{Name: "query_products", Description: "Search or filter the agent's product/service catalog.", Parameters: objectSchema(map[string]any{
			"search": stringProp("Free-text search against product name/description."),
			"filters": map[string]any{"type": "object", "description": `Field filters, e.g. {"price": {"op": "lt", "value": 100}}. Supported fields: name, description, price. Supported ops: eq (default), gt, lt, gte, lte, contains.`},
		}, nil)},
		{Name: "check_availability", Description: "Check open appointment slots between two timestamps.", Parameters: objectSchema(map[string]any{
			"start": stringProp("RFC3339 window start."),
			"end":   stringProp("RFC3339 window end."),
		}, []string{"start", "end"})},
		{Name: "book_appointment", Description: "Book an appointment for the customer.", Parameters: objectSchema(map[string]any{
			"start_time":  stringProp("RFC3339 start time."),
			"duration_minutes": map[string]any{"type": "integer", "description": "Duration in minutes, 5-480."},
			"title":       stringProp("Short appointment title."),
			"description": stringProp("Optional longer description."),
		}, []string{"start_time", "duration_minutes", "title"})},
		{Name: "get_my_appointments", Description: "List the customer's upcoming appointments.", Parameters: objectSchema(map[string]any{}, nil)},
		{Name: "cancel_appointment", Description: "Cancel one of the customer's appointments.", Parameters: objectSchema(map[string]any{
			"appointment_id": stringProp("The appointment id to cancel."),
		}, []string{"appointment_id"})},
		{Name: "reschedule_appointment", Description: "Move an existing appointment to a new time.", Parameters: objectSchema(map[string]any{
			"appointment_id": stringProp("The appointment id to reschedule."),
			"new_start_time": stringProp("RFC3339 new start time."),
			"duration_minutes": map[string]any{"type": "integer", "description": "Duration in minutes, 5-480."},
		}, []string{"appointment_id", "new_start_time", "duration_minutes"})},
		{Name: "send_media", Description: "Send a piece of media (image/video/document) to the customer.", Parameters: objectSchema(map[string]any{
			"media_id": stringProp("The agent media id to send."),
			"caption":  stringProp("Optional caption override."),
		}, []string{"media_id"})},
		{Name: "search_media", Description: "Search the agent's media library by description.", Parameters: objectSchema(map[string]any{
			"query": stringProp("Description of the media to find."),
		}, []string{"query"})},
		{Name: "opt_out_conversation", Description: "Stop proactive/automated messages to this customer until they write again.", Parameters: objectSchema(map[string]any{}, nil)},
	}
}

func stringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func objectSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Handle implements llm.ToolHandler, dispatching each call to its typed
// handler and recovering per-call so one failing tool never aborts the
// batch (spec §7: tool failures return a result to the model, they do not
// propagate as orchestrator errors).
func (e *Executor) Handle(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	log := logx.With("tools")
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		log.Debug().Str("tool", call.Name).Msg("🔧 executing tool")
		result, err := e.dispatch(ctx, call)
		if err != nil {
			log.Warn().Err(err).Str("tool", call.Name).Msg("⚠️ tool call failed")
			result = llm.ToolResult{ToolCallID: call.ID, Name: call.Name, Text: "הפעולה נכשלה: " + err.Error()}
		}
		result.ToolCallID = call.ID
		result.Name = call.Name
		results = append(results, result)
	}
	return results
}

func (e *Executor) dispatch(ctx context.Context, call llm.ToolCall) (llm.ToolResult, error) {
	switch call.Name {
	case "update_user_info":
		return e.updateUserInfo(ctx, call.Args)
	case "search_knowledge":
		return e.searchKnowledge(ctx, call.Args)
	case "query_products":
		return e.queryProducts(ctx, call.Args)
	case "check_availability":
		return e.checkAvailability(ctx, call.Args)
	case "book_appointment":
		return e.bookAppointment(ctx, call.Args)
	case "get_my_appointments":
		return e.getMyAppointments(ctx, call.Args)
	case "cancel_appointment":
		return e.cancelAppointment(ctx, call.Args)
	case "reschedule_appointment":
		return e.rescheduleAppointment(ctx, call.Args)
	case "send_media":
		return e.sendMedia(ctx, call.Args)
	case "search_media":
		return e.searchMedia(ctx, call.Args)
	case "opt_out_conversation":
		return e.optOutConversation(ctx, call.Args)
	default:
		return llm.ToolResult{}, errUnknownTool(call.Name)
	}
}

type unknownToolError string

func (e unknownToolError) Error() string { return "unknown tool: " + string(e) }
func errUnknownTool(name string) error   { return unknownToolError(name) }

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
