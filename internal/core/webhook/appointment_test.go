package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genfity/wa-agent-core/internal/models"
)

func TestSend_NoopWhenWebhookURLUnset(t *testing.T) {
	s := NewAppointmentSender(nil, nil)
	agent := &models.Agent{}
	appt := &models.Appointment{}
	user := &models.User{}

	err := s.Send(t.Context(), "appointment.created", agent, appt, user)
	assert.NoError(t, err)
}

func TestSend_PostsPayloadWithoutSummaryWhenSummarizerNil(t *testing.T) {
	var received appointmentPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewAppointmentSender(nil, nil)
	agent := &models.Agent{ID: uuid.New(), Name: "Clinic Bot"}
	require.NoError(t, agent.SetCalendarConfig(models.CalendarConfig{AppointmentWebhookURL: srv.URL}))
	appt := &models.Appointment{ID: uuid.New(), Title: "Checkup", Status: models.AppointmentScheduled}
	user := &models.User{DisplayName: "Dana", Phone: "15550001111"}

	err := s.Send(t.Context(), "appointment.created", agent, appt, user)
	require.NoError(t, err)

	assert.Equal(t, "appointment.created", received.Event)
	assert.Equal(t, "Checkup", received.Appointment.Title)
	assert.Equal(t, "Dana", received.Customer.Name)
	assert.Nil(t, received.ConversationSummary)
}

func TestSend_NonSuccessStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewAppointmentSender(nil, nil)
	agent := &models.Agent{ID: uuid.New()}
	require.NoError(t, agent.SetCalendarConfig(models.CalendarConfig{AppointmentWebhookURL: srv.URL}))
	appt := &models.Appointment{ID: uuid.New()}
	user := &models.User{}

	err := s.Send(t.Context(), "appointment.cancelled", agent, appt, user)
	assert.Error(t, err)
}
