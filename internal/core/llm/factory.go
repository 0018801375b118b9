package llm

import "strings"

// Factory resolves a model tag to a concrete Provider and applies the
// image-routing rule from spec §4.4: any request carrying inline image
// content is forced to the Anthropic-class provider regardless of which
// model the agent configured, because it is the only backend that
// understands inline images.
type Factory struct {
	openai    Provider
	anthropic Provider
	gemini    Provider
}

// NewFactory builds a Factory over one registry-backed provider per backend.
func NewFactory(registry *Registry) *Factory {
	return &Factory{
		openai:    NewOpenAIProvider(registry.Pool("openai")),
		anthropic: NewAnthropicProvider(registry.Pool("anthropic")),
		gemini:    NewGeminiProvider(registry.Pool("gemini")),
	}
}

// modelPrefix maps a model tag's leading family name to a provider name.
// Grounded on the teacher's internal/core/llm/factory.go model-tag switch,
// generalized to the three backends this spec requires.
func modelPrefix(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini-"):
		return "gemini"
	default:
		return ""
	}
}

// Resolve returns the provider for req's configured model, UNLESS req
// carries image content, in which case it always returns the Anthropic
// provider (spec §4.4's image-routing rule takes priority over the
// agent's configured model).
func (f *Factory) Resolve(req CompletionRequest) (Provider, error) {
	if req.HasImageInput() {
		return f.anthropic, nil
	}

	switch modelPrefix(req.Model) {
	case "openai":
		return f.openai, nil
	case "anthropic":
		return f.anthropic, nil
	case "gemini":
		return f.gemini, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// ProviderFor returns the provider for out-of-band single-shot needs for a
// given model tag, without consulting image content (used by callers that already know they are
// not sending images, e.g. reminder/follow-up content generation).
func (f *Factory) ProviderFor(model string) (Provider, error) {
	switch modelPrefix(model) {
	case "openai":
		return f.openai, nil
	case "anthropic":
		return f.anthropic, nil
	case "gemini":
		return f.gemini, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}

// ImageDescriber returns the provider capable of describing inbound images
// (always Anthropic, per spec §4.4/§4.1) — used directly by the Inbound
// Dispatcher (C1) rather than going through Resolve, since image
// pre-resolution happens before a model/agent is chosen.
func (f *Factory) ImageDescriber() Provider {
	return f.anthropic
}
