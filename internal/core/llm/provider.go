// Package llm is the uniform interface over three LLM backends (C4):
// Anthropic-class, Google-class, and OpenAI-class. It owns the tool-call
// loop, usage accounting, and key-pool rotation described in spec §4.4.
package llm

import (
	"context"
	"fmt"
)

// Role is a chat turn's author in the canonical, provider-agnostic history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of conversation history fed to a provider.
type ChatMessage struct {
	Role Role
	Text string
	// ImageBase64/ImageMime are set when this turn carries inline image
	// content (only the Anthropic-class provider understands these; the
	// factory routes such requests there regardless of configured model).
	ImageBase64 string
	ImageMime   string
}

// SystemBlock is one logical chunk of the system prompt. Cacheable marks
// the stable-per-agent block eligible for ephemeral prompt caching on
// providers that support it (spec §4.3/§4.4).
type SystemBlock struct {
	Text     string
	Cacheable bool
}

// ToolSpec describes one tool the model may invoke, using a JSON-schema
// shaped Parameters map so every provider converter can translate it to its
// own function/tool-declaration format.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is one invocation the model asked for.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// MediaAction is a `send_media` tool result intercepted by the provider
// loop (spec §4.4): it never reaches the model as a raw dict — the model
// sees a short ack string instead, and the action is surfaced to the
// orchestrator via CompletionResult.MediaActions.
type MediaAction struct {
	MediaID string
	Caption string
}

// ToolResult is what a ToolHandler returns for one ToolCall.
type ToolResult struct {
	ToolCallID string
	Name       string
	// Text is the content returned to the model. For send_media calls this
	// is the acknowledgement string; the actual directive lives in Media.
	Text  string
	Media *MediaAction
}

// ToolHandler executes model-invoked tool calls and returns one ToolResult
// per call, in any order the provider loop can rematch by ToolCallID.
type ToolHandler func(ctx context.Context, calls []ToolCall) []ToolResult

// Usage accumulates token accounting for one GetResponse call (spec §4.4).
// CacheReadTokens/CacheCreationTokens are zero on non-caching providers.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

// Add accumulates u into the receiver, used across tool-loop rounds.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// CompletionRequest is the canonical request shape every provider consumes.
type CompletionRequest struct {
	Model        string
	SystemBlocks []SystemBlock
	History      []ChatMessage
	UserContent  string
	// UserImageBase64/UserImageMime attach inline image content to the
	// pending user turn (voice is pre-transcribed to text upstream by C1).
	UserImageBase64 string
	UserImageMime   string
	Tools           []ToolSpec
	// AgentOverrideKey is the agent-level API key override for this
	// provider, if the agent configured one (spec §4.4). Empty means use
	// the shared pool.
	AgentOverrideKey string
}

// HasImageInput reports whether this request carries any inline image
// content, across history or the pending turn — used by the factory's
// image-routing rule (spec §4.4).
func (r CompletionRequest) HasImageInput() bool {
	if r.UserImageBase64 != "" {
		return true
	}
	for _, m := range r.History {
		if m.ImageBase64 != "" {
			return true
		}
	}
	return false
}

// CompletionResult is what GetResponse returns after the tool loop settles.
type CompletionResult struct {
	Text         string
	Usage        Usage
	MediaActions []MediaAction
}

// MaxToolRounds bounds the unified tool loop (spec §4.4: "up to 5 rounds").
const MaxToolRounds = 5

// Provider is the uniform interface every LLM backend implements.
type Provider interface {
	Name() string

	// GetResponse runs the full tool loop for one model turn.
	GetResponse(ctx context.Context, req CompletionRequest, toolHandler ToolHandler) (CompletionResult, error)

	// GenerateSimpleResponse issues a single-turn completion with no tools
	// and no history — used by reminder/follow-up AI content generation.
	GenerateSimpleResponse(ctx context.Context, systemPrompt, prompt string) (string, error)

	// DescribeImage produces a short natural-language description of an
	// inbound image (spec §4.1, "captures Hebrew description").
	DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error)

	// AnalyzeImage answers a specific prompt about an image (a more
	// general form of DescribeImage, for tool-driven image analysis
	// outside the fixed inbound-description flow).
	AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (string, error)

	// AnalyzeDocument answers a specific prompt about an inline document
	// page sent as a base64 image; the Anthropic provider rejects any
	// non-image mime type (so not a PDF), and the other providers return an
	// error for every call.
	AnalyzeDocument(ctx context.Context, docBase64, mimeType, prompt string) (string, error)

	// SupportsImageInput reports whether this backend can accept inline
	// image content at all (only the Anthropic-class provider can, per
	// spec §4.4).
	SupportsImageInput() bool
}

// ErrUnsupportedProvider is returned by the factory for an unknown model tag.
var ErrUnsupportedProvider = fmt.Errorf("llm: unsupported provider")
