// Package webhook implements the outbound appointment-lifecycle notification
// spec §6 describes: C5's AppointmentWebhookSender. Grounded on the
// teacher's internal/modules/saas/services/webhook_service.go HTTP-client
// idiom, generalized from an inbound handler to a JSON POST-and-retry
// sender, using avast/retry-go/v4 (already the teacher's retry dependency)
// for transient delivery resilience.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

const (
	deliveryTimeout  = 15 * time.Second
	deliveryAttempts = 3
)

// InlineSummarizer generates the optional conversation_summary field an
// appointment webhook payload may carry (spec §6: "generated inline only if
// summaries enabled, null on generation failure"). Satisfied by the
// Summary Engine (C9).
type InlineSummarizer interface {
	GenerateInline(ctx context.Context, conversationID, agentID, userID string) (string, error)
}

// AppointmentSender implements tools.AppointmentWebhookSender.
type AppointmentSender struct {
	db         *gorm.DB
	httpClient *http.Client
	summarizer InlineSummarizer
}

func NewAppointmentSender(db *gorm.DB, summarizer InlineSummarizer) *AppointmentSender {
	return &AppointmentSender{
		db:         db,
		httpClient: &http.Client{Timeout: deliveryTimeout},
		summarizer: summarizer,
	}
}

type appointmentPayload struct {
	Event               string   `json:"event"`
	Appointment         apptDTO  `json:"appointment"`
	Customer            userDTO  `json:"customer"`
	Agent               agentDTO `json:"agent"`
	CalendarID          string   `json:"calendar_id"`
	ConversationSummary *string  `json:"conversation_summary"`
}

type apptDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Status      string    `json:"status"`
}

type userDTO struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type agentDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Send delivers the created/cancelled/updated appointment webhook
// configured on the agent's calendar config. A missing webhook URL is a
// silent no-op (the integration is opt-in per spec §6).
func (s *AppointmentSender) Send(ctx context.Context, event string, agent *models.Agent, appt *models.Appointment, user *models.User) error {
	url := agent.CalendarConfig().AppointmentWebhookURL
	if url == "" {
		return nil
	}
	log := logx.With("webhook")

	payload := appointmentPayload{
		Event: event,
		Appointment: apptDTO{
			ID:          appt.ID.String(),
			Title:       appt.Title,
			Description: appt.Description,
			StartTime:   appt.StartTime,
			EndTime:     appt.EndTime,
			Status:      string(appt.Status),
		},
		Customer:   userDTO{Name: user.DisplayName, Phone: user.Phone},
		Agent:      agentDTO{ID: agent.ID.String(), Name: agent.Name},
		CalendarID: agent.CalendarConfig().CalendarID,
	}

	if s.summarizer != nil && agent.SummaryConfig().Enabled {
		if convID := s.conversationIDFor(ctx, agent.ID.String(), user.ID.String()); convID != "" {
			if text, err := s.summarizer.GenerateInline(ctx, convID, agent.ID.String(), user.ID.String()); err == nil {
				payload.ConversationSummary = &text
			} else {
				log.Warn().Err(err).Msg("⚠️ inline conversation summary generation failed, sending null")
			}
		}
	}

	return s.post(ctx, url, payload)
}

func (s *AppointmentSender) conversationIDFor(ctx context.Context, agentID, userID string) string {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("agent_id = ? AND user_id = ?", agentID, userID).First(&conv).Error; err != nil {
		return ""
	}
	return conv.ID.String()
}

func (s *AppointmentSender) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("webhook: status %d", resp.StatusCode)
		}
		return nil
	}, retry.Attempts(deliveryAttempts), retry.Context(ctx))
}
