package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// AnthropicProvider implements Provider over the Anthropic-class backend:
// native tool use, ephemeral prompt caching on the first (cacheable) system
// block, and the only backend that understands inline image content
// (spec §4.4). Grounded on the factory/provider split the teacher uses in
// internal/core/llm/{provider,claude}.go, adapted from a single-shot
// GenerateResponse call into the full tool loop the spec requires.
type AnthropicProvider struct {
	pool *KeyPool
}

func NewAnthropicProvider(pool *KeyPool) *AnthropicProvider {
	return &AnthropicProvider{pool: pool}
}

func (p *AnthropicProvider) Name() string            { return "anthropic" }
func (p *AnthropicProvider) SupportsImageInput() bool { return true }

const defaultMaxTokens = 2048

func (p *AnthropicProvider) GetResponse(ctx context.Context, req CompletionRequest, toolHandler ToolHandler) (CompletionResult, error) {
	log := logx.With("llm.anthropic")

	systemBlocks := toAnthropicSystemBlocks(req.SystemBlocks)
	tools := toAnthropicTools(req.Tools)

	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		msgs = append(msgs, toAnthropicMessage(m.Role, m.Text, m.ImageBase64, m.ImageMime))
	}
	msgs = append(msgs, toAnthropicMessage(RoleUser, req.UserContent, req.UserImageBase64, req.UserImageMime))

	var result CompletionResult
	for round := 0; round < MaxToolRounds; round++ {
		resp, err := p.complete(ctx, req.Model, systemBlocks, msgs, tools, req.AgentOverrideKey)
		if err != nil {
			return result, err
		}

		result.Usage.Add(Usage{
			InputTokens:         resp.Usage.InputTokens,
			OutputTokens:        resp.Usage.OutputTokens,
			CacheReadTokens:     resp.Usage.CacheReadInputTokens,
			CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
		})

		var text string
		var calls []ToolCall
		for _, block := range resp.Content {
			switch v := block.AsAny().(type) {
			case anthropic.TextBlock:
				text += v.Text
			case anthropic.ToolUseBlock:
				var args map[string]any
				_ = json.Unmarshal(v.Input, &args)
				calls = append(calls, ToolCall{ID: v.ID, Name: v.Name, Args: args})
			}
		}

		if len(calls) == 0 {
			result.Text = text
			return result, nil
		}

		msgs = append(msgs, anthropic.NewAssistantMessage(resp.Content...))

		toolResults := toolHandler(ctx, calls)
		var resultBlocks []anthropic.ContentBlockParamUnion
		for _, tr := range toolResults {
			content := tr.Text
			if tr.Media != nil {
				result.MediaActions = append(result.MediaActions, *tr.Media)
				if content == "" {
					content = "media sent"
				}
			}
			resultBlocks = append(resultBlocks, anthropic.NewToolResultBlock(tr.ToolCallID, content, false))
		}
		msgs = append(msgs, anthropic.NewUserMessage(resultBlocks...))

		log.Debug().Int("round", round+1).Int("tool_calls", len(calls)).Msg("🔧 anthropic tool round")
	}

	result.Text = "I reached my tool-call limit for this turn."
	return result, nil
}

func (p *AnthropicProvider) complete(ctx context.Context, model string, system []anthropic.TextBlockParam, msgs []anthropic.MessageParam, tools []anthropic.ToolUnionParam, overrideKey string) (*anthropic.Message, error) {
	lease, ok := p.pool.GetKey(overrideKey)
	if !ok {
		return nil, fmt.Errorf("anthropic: no available key")
	}

	client := anthropic.NewClient(option.WithAPIKey(lease.Key))
	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultMaxTokens,
		System:    system,
		Messages:  msgs,
		Tools:     tools,
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			switch apiErr.StatusCode {
			case 429:
				p.pool.ReportRateLimited(lease.Key, 0, lease.IsOverride)
			case 401, 403:
				p.pool.ReportAuthFailure(lease.Key, lease.IsOverride)
			}
		}
		return nil, err
	}
	return resp, nil
}

func (p *AnthropicProvider) GenerateSimpleResponse(ctx context.Context, systemPrompt, prompt string) (string, error) {
	lease, ok := p.pool.GetKey("")
	if !ok {
		return "", fmt.Errorf("anthropic: no available key")
	}
	client := anthropic.NewClient(option.WithAPIKey(lease.Key))

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}
	var text string
	for _, block := range resp.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += v.Text
		}
	}
	return text, nil
}

func (p *AnthropicProvider) DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error) {
	lease, ok := p.pool.GetKey("")
	if !ok {
		return "", fmt.Errorf("anthropic: no available key")
	}
	client := anthropic.NewClient(option.WithAPIKey(lease.Key))

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: 512,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(mimeType, imageBase64),
				anthropic.NewTextBlock("תאר את התמונה הזו בקצרה בעברית."),
			),
		},
	})
	if err != nil {
		return "", err
	}
	var text string
	for _, block := range resp.Content {
		if v, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += v.Text
		}
	}
	return text, nil
}

func (p *AnthropicProvider) AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (string, error) {
	return p.analyzeInline(ctx, anthropic.NewImageBlockBase64(mimeType, imageBase64), prompt)
}

// AnalyzeDocument handles the inline-image-as-document case (e.g. a scanned
// page); true PDF/structured-document ingestion is out of scope (spec §1
// excludes "document extraction" as a feature), so any other mime type is
// rejected rather than silently mishandled.
func (p *AnthropicProvider) AnalyzeDocument(ctx context.Context, docBase64, mimeType, prompt string) (string, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("anthropic: unsupported document mime type %q", mimeType)
	}
	return p.analyzeInline(ctx, anthropic.NewImageBlockBase64(mimeType, docBase64), prompt)
}

func (p *AnthropicProvider) analyzeInline(ctx context.Context, block anthropic.ContentBlockParamUnion, prompt string) (string, error) {
	lease, ok := p.pool.GetKey("")
	if !ok {
		return "", fmt.Errorf("anthropic: no available key")
	}
	client := anthropic.NewClient(option.WithAPIKey(lease.Key))

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.ModelClaude3_5HaikuLatest,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(block, anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var text string
	for _, b := range resp.Content {
		if v, ok := b.AsAny().(anthropic.TextBlock); ok {
			text += v.Text
		}
	}
	return text, nil
}

func toAnthropicSystemBlocks(blocks []SystemBlock) []anthropic.TextBlockParam {
	out := make([]anthropic.TextBlockParam, 0, len(blocks))
	for i, b := range blocks {
		tb := anthropic.TextBlockParam{Text: b.Text}
		// Only the first cacheable block gets ephemeral caching, per spec
		// §4.4 ("ephemeral prompt caching on the first system block").
		if i == 0 && b.Cacheable {
			tb.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		out = append(out, tb)
	}
	return out
}

func toAnthropicMessage(role Role, text, imageBase64, imageMime string) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	if imageBase64 != "" {
		blocks = append(blocks, anthropic.NewImageBlockBase64(imageMime, imageBase64))
	}
	if text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	if role == RoleAssistant {
		return anthropic.NewAssistantMessage(blocks...)
	}
	return anthropic.NewUserMessage(blocks...)
}

func toAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, s := range specs {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Parameters["properties"],
					Required:   toStringSlice(s.Parameters["required"]),
				},
			},
		})
	}
	return out
}

func toStringSlice(v any) []string {
	raw, ok := v.([]string)
	if ok {
		return raw
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
