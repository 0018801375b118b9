package summary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genfity/wa-agent-core/internal/models"
)

func TestRenderPrompt_FormatsRoleAndText(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Text: "hi there"},
		{Role: models.RoleAssistant, Text: "hello, how can I help?"},
	}
	got := renderPrompt(msgs)
	assert.Equal(t, "לקוח: hi there\nסוכן: hello, how can I help?\n", got)
}

func TestRenderPrompt_TruncatesLongMessage(t *testing.T) {
	long := strings.Repeat("a", maxMessageChars+100)
	msgs := []models.Message{{Role: models.RoleUser, Text: long}}
	got := renderPrompt(msgs)
	assert.Contains(t, got, "…")
	assert.LessOrEqual(t, len(got), maxMessageChars+30)
}

func TestRenderPrompt_CapsTotalPromptLength(t *testing.T) {
	var msgs []models.Message
	for i := 0; i < 100; i++ {
		msgs = append(msgs, models.Message{Role: models.RoleUser, Text: strings.Repeat("x", 500)})
	}
	got := renderPrompt(msgs)
	assert.LessOrEqual(t, len(got), maxPromptChars)
}

func TestReverseMessages_OddLength(t *testing.T) {
	msgs := []models.Message{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	reverseMessages(msgs)
	assert.Equal(t, []string{"c", "b", "a"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
}

func TestReverseMessages_EvenLength(t *testing.T) {
	msgs := []models.Message{{Text: "a"}, {Text: "b"}}
	reverseMessages(msgs)
	assert.Equal(t, []string{"b", "a"}, []string{msgs[0].Text, msgs[1].Text})
}

func TestReverseMessages_EmptyIsNoop(t *testing.T) {
	var msgs []models.Message
	reverseMessages(msgs)
	assert.Empty(t, msgs)
}
