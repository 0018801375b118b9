package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genfity/wa-agent-core/internal/core/llm"
)

func TestArgString_ExtractsAndDefaultsEmpty(t *testing.T) {
	args := map[string]any{"name": "Dana", "count": 3}
	assert.Equal(t, "Dana", argString(args, "name"))
	assert.Equal(t, "", argString(args, "count"))
	assert.Equal(t, "", argString(args, "missing"))
}

func TestArgInt_HandlesJSONFloatAndPlainInt(t *testing.T) {
	args := map[string]any{"from_json": float64(42), "native": 7, "text": "nope"}
	assert.Equal(t, 42, argInt(args, "from_json"))
	assert.Equal(t, 7, argInt(args, "native"))
	assert.Equal(t, 0, argInt(args, "text"))
	assert.Equal(t, 0, argInt(args, "missing"))
}

func TestParseRFC3339_ValidAndInvalid(t *testing.T) {
	ts, err := parseRFC3339("2026-08-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.Year())

	_, err = parseRFC3339("not-a-date")
	assert.Error(t, err)
}

func TestSpecs_EveryToolHasNameAndParameters(t *testing.T) {
	specs := Specs()
	assert.NotEmpty(t, specs)
	seen := map[string]bool{}
	for _, s := range specs {
		assert.NotEmpty(t, s.Name)
		assert.NotEmpty(t, s.Description)
		assert.NotNil(t, s.Parameters)
		assert.False(t, seen[s.Name], "duplicate tool name %s", s.Name)
		seen[s.Name] = true
	}
}

func TestExecutor_Dispatch_UnknownToolReturnsError(t *testing.T) {
	e := &Executor{}
	_, err := e.dispatch(context.Background(), llm.ToolCall{Name: "does_not_exist"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does_not_exist")
}

func TestExecutor_Handle_UnknownToolProducesHebrewFailureResult(t *testing.T) {
	e := &Executor{}
	results := e.Handle(context.Background(), []llm.ToolCall{{ID: "call-1", Name: "does_not_exist"}})
	require.Len(t, results, 1)
	assert.Equal(t, "call-1", results[0].ToolCallID)
	assert.Contains(t, results[0].Text, "נכשלה")
}
