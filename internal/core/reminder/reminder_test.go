package reminder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/genfity/wa-agent-core/internal/models"
)

func TestSubstituteTemplate_ReplacesAllVariables(t *testing.T) {
	tpl := "Hi {customer_name}, your {title} is on {date} at {time}."
	vars := map[string]string{
		"customer_name": "Dana",
		"title":         "Checkup",
		"date":          "01/02/2026",
		"time":          "10:00",
	}
	got := substituteTemplate(tpl, vars)
	assert.Equal(t, "Hi Dana, your Checkup is on 01/02/2026 at 10:00.", got)
}

func TestSubstituteTemplate_LeavesUnknownPlaceholdersUntouched(t *testing.T) {
	got := substituteTemplate("Hello {unknown_var}", map[string]string{"customer_name": "Dana"})
	assert.Equal(t, "Hello {unknown_var}", got)
}

func TestReminderVariables_ComputesHebrewWeekdayAndDuration(t *testing.T) {
	agent := &models.Agent{Timezone: "UTC"}
	start := time.Date(2026, 8, 2, 14, 0, 0, 0, time.UTC) // Sunday
	appt := &models.Appointment{
		Title:     "Consultation",
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	}
	user := &models.User{DisplayName: "Dana", Phone: "15550001111"}

	vars := reminderVariables(agent, appt, user)
	assert.Equal(t, "Dana", vars["customer_name"])
	assert.Equal(t, "Consultation", vars["title"])
	assert.Equal(t, "02/08/2026", vars["date"])
	assert.Equal(t, "14:00", vars["time"])
	assert.Equal(t, "ראשון", vars["day"])
	assert.Equal(t, "30m0s", vars["duration"])
}

func TestAgentLocation_DefaultsToJerusalem(t *testing.T) {
	loc := agentLocation("")
	assert.Equal(t, "Asia/Jerusalem", loc.String())
}

func TestAgentLocation_FallsBackToUTCOnBadZone(t *testing.T) {
	loc := agentLocation("Not/A_Real_Zone")
	assert.Equal(t, time.UTC, loc)
}

func TestAgentLocation_HonorsValidZone(t *testing.T) {
	loc := agentLocation("UTC")
	assert.Equal(t, "UTC", loc.String())
}
