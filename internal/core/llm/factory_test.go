package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory() *Factory {
	registry := NewRegistry(map[string][]string{
		"openai":    {"ok1"},
		"anthropic": {"ak1"},
		"gemini":    {"gk1"},
	})
	return NewFactory(registry)
}

func TestModelPrefix(t *testing.T) {
	assert.Equal(t, "openai", modelPrefix("gpt-4o"))
	assert.Equal(t, "openai", modelPrefix("o3-mini"))
	assert.Equal(t, "anthropic", modelPrefix("claude-3-5-haiku-latest"))
	assert.Equal(t, "gemini", modelPrefix("gemini-2.0-flash"))
	assert.Equal(t, "", modelPrefix("llama-3"))
}

func TestFactory_Resolve_RoutesByModelPrefix(t *testing.T) {
	f := newTestFactory()

	p, err := f.Resolve(CompletionRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Same(t, f.openai, p)

	p, err = f.Resolve(CompletionRequest{Model: "claude-3-5-sonnet-latest"})
	require.NoError(t, err)
	assert.Same(t, f.anthropic, p)

	p, err = f.Resolve(CompletionRequest{Model: "gemini-2.0-flash"})
	require.NoError(t, err)
	assert.Same(t, f.gemini, p)
}

func TestFactory_Resolve_UnknownModelErrors(t *testing.T) {
	f := newTestFactory()
	_, err := f.Resolve(CompletionRequest{Model: "mystery-model"})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestFactory_Resolve_ImageInputForcesAnthropicRegardlessOfModel(t *testing.T) {
	f := newTestFactory()

	p, err := f.Resolve(CompletionRequest{Model: "gpt-4o", UserImageBase64: "base64data"})
	require.NoError(t, err)
	assert.Same(t, f.anthropic, p, "an inline image must always route to Anthropic even if the agent's model is OpenAI")
}

func TestFactory_Resolve_ImageInHistoryAlsoForcesAnthropic(t *testing.T) {
	f := newTestFactory()
	req := CompletionRequest{
		Model:   "gemini-2.0-flash",
		History: []ChatMessage{{ImageBase64: "base64data"}},
	}
	p, err := f.Resolve(req)
	require.NoError(t, err)
	assert.Same(t, f.anthropic, p)
}

func TestFactory_ProviderFor_IgnoresImageRouting(t *testing.T) {
	f := newTestFactory()
	p, err := f.ProviderFor("gpt-4o")
	require.NoError(t, err)
	assert.Same(t, f.openai, p)
}

func TestFactory_ImageDescriber_AlwaysAnthropic(t *testing.T) {
	f := newTestFactory()
	assert.Same(t, f.anthropic, f.ImageDescriber())
}
