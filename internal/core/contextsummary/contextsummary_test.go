package contextsummary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genfity/wa-agent-core/internal/models"
)

func TestRenderTranscript_FormatsRoleAndText(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "when are you open?"},
		{Role: models.RoleAssistant, Text: "9am-5pm weekdays"},
	}
	got := renderTranscript(msgs)
	assert.Equal(t, "לקוח: when are you open?\nסוכן: 9am-5pm weekdays\n", got)
}

func TestRenderTranscript_TruncatesLongMessages(t *testing.T) {
	long := strings.Repeat("b", maxMessageChars+50)
	got := renderTranscript([]models.Message{{Role: models.RoleUser, Text: long}})
	assert.True(t, strings.HasPrefix(got, "לקוח: "))
	assert.Less(t, len(got), len(long))
}

func TestReverseMessages(t *testing.T) {
	msgs := []models.Message{{Text: "1"}, {Text: "2"}, {Text: "3"}}
	reverseMessages(msgs)
	assert.Equal(t, []string{"3", "2", "1"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
}
