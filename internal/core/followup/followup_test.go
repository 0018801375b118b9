package followup

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/genfity/wa-agent-core/internal/models"
)

func TestSplitMember(t *testing.T) {
	agentID, convID, ok := splitMember("agent-1:conv-2")
	assert.True(t, ok)
	assert.Equal(t, "agent-1", agentID)
	assert.Equal(t, "conv-2", convID)
}

func TestSplitMember_RejectsMissingSeparator(t *testing.T) {
	_, _, ok := splitMember("no-separator")
	assert.False(t, ok)
}

func TestParseHHMM(t *testing.T) {
	assert.Equal(t, 10*60, parseHHMM("10:00"))
	assert.Equal(t, 4*60+30, parseHHMM("04:30"))
}

func TestParseHHMM_MalformedReturnsZero(t *testing.T) {
	assert.Equal(t, 0, parseHHMM("garbage"))
}

func TestAtoiSafe(t *testing.T) {
	assert.Equal(t, 42, atoiSafe("42"))
	assert.Equal(t, 0, atoiSafe("4x"))
}

func TestWithinActiveHours_EmptyWindowAlwaysTrue(t *testing.T) {
	e := &Engine{}
	assert.True(t, e.withinActiveHours(models.ActiveHours{}, "UTC", time.Now()))
}

func TestWithinActiveHours_NormalWindow(t *testing.T) {
	e := &Engine{}
	ah := models.ActiveHours{Start: "09:00", End: "17:00"}
	inside := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 1, 20, 0, 0, 0, time.UTC)
	assert.True(t, e.withinActiveHours(ah, "UTC", inside))
	assert.False(t, e.withinActiveHours(ah, "UTC", outside))
}

func TestWithinActiveHours_CrossMidnightWindow(t *testing.T) {
	e := &Engine{}
	ah := models.ActiveHours{Start: "10:00", End: "04:00"}
	lateNight := time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC)
	earlyMorning := time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)
	midday := time.Date(2026, 1, 1, 7, 0, 0, 0, time.UTC)
	assert.True(t, e.withinActiveHours(ah, "UTC", lateNight))
	assert.True(t, e.withinActiveHours(ah, "UTC", earlyMorning))
	assert.False(t, e.withinActiveHours(ah, "UTC", midday), "7am falls in the cross-midnight gap between 04:00 and 10:00")
}

func TestWithinActiveHours_FallsBackToUTCOnBadZone(t *testing.T) {
	e := &Engine{}
	ah := models.ActiveHours{Start: "00:00", End: "23:59"}
	assert.True(t, e.withinActiveHours(ah, "Not/A_Zone", time.Now()))
}

func TestExtractJSON_StripsWrapperText(t *testing.T) {
	raw := "Sure, here's the decision:\n```json\n{\"send\": true, \"message\": \"hi\"}\n```\nHope that helps!"
	got := extractJSON(raw)
	assert.Equal(t, `{"send": true, "message": "hi"}`, got)
}

func TestExtractJSON_NoBracesReturnsInput(t *testing.T) {
	raw := "no json here"
	assert.Equal(t, raw, extractJSON(raw))
}

func TestChannelFor_NonMetaAlwaysFreeText(t *testing.T) {
	e := &Engine{}
	agent := &models.Agent{Provider: models.ProviderWaSender}
	conv := &models.Conversation{}
	assert.Equal(t, models.SendFreeText, e.channelFor(agent, conv, models.FollowupConfig{}))
}

func TestChannelFor_MetaWithinWindowIsFreeText(t *testing.T) {
	e := &Engine{}
	recent := time.Now().Add(-1 * time.Hour)
	agent := &models.Agent{Provider: models.ProviderMeta}
	conv := &models.Conversation{LastCustomerMessageAt: &recent}
	assert.Equal(t, models.SendFreeText, e.channelFor(agent, conv, models.FollowupConfig{}))
}

func TestChannelFor_MetaBeyondWindowRequiresTemplate(t *testing.T) {
	e := &Engine{}
	stale := time.Now().Add(-48 * time.Hour)
	agent := &models.Agent{Provider: models.ProviderMeta}
	conv := &models.Conversation{LastCustomerMessageAt: &stale}
	cfg := models.FollowupConfig{MetaTemplates: []models.MetaTemplateRef{{Name: "checkin"}}}
	assert.Equal(t, models.SendMetaTemplate, e.channelFor(agent, conv, cfg))
}

func TestChannelFor_MetaBeyondWindowNoTemplatesConfiguredFallsBackToFreeText(t *testing.T) {
	e := &Engine{}
	stale := time.Now().Add(-48 * time.Hour)
	agent := &models.Agent{Provider: models.ProviderMeta}
	conv := &models.Conversation{LastCustomerMessageAt: &stale}
	assert.Equal(t, models.SendFreeText, e.channelFor(agent, conv, models.FollowupConfig{}))
}

func TestPersonalitySnippet_EmptyWhenNoSystemPrompt(t *testing.T) {
	assert.Equal(t, "", personalitySnippet(""))
}

func TestPersonalitySnippet_ShortPromptUnchanged(t *testing.T) {
	assert.Equal(t, "Be warm.", personalitySnippet("Be warm."))
}

func TestPersonalitySnippet_TruncatesLongPromptAtSentenceBoundary(t *testing.T) {
	long := strings.Repeat("This is one filler sentence. ", 40)
	got := personalitySnippet(long)
	assert.LessOrEqual(t, len(got), 501)
	assert.True(t, strings.HasSuffix(got, "."))
}

func TestParseDecision_StripsMarkdownFence(t *testing.T) {
	raw := "Sure, here's the decision:\n```json\n{\"send\": true, \"content\": \"hi\"}\n```\nHope that helps!"
	decision, err := parseDecision(raw)
	assert.NoError(t, err)
	assert.True(t, decision.Send)
	assert.Equal(t, "hi", decision.Message)
}

func TestParseDecision_BareJSON(t *testing.T) {
	decision, err := parseDecision(`{"send": false, "reason": "customer said bye"}`)
	assert.NoError(t, err)
	assert.False(t, decision.Send)
	assert.Equal(t, "customer said bye", decision.Reason)
}

func TestParseDecision_WrappedInProseFallsBackToBraceScan(t *testing.T) {
	decision, err := parseDecision(`here you go: {"send": true, "content": "ok"} thanks`)
	assert.NoError(t, err)
	assert.True(t, decision.Send)
}
