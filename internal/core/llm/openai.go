package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// OpenAIProvider implements Provider over the OpenAI-class backend: tools
// converted to function-calling schema, system blocks concatenated into a
// single system message (spec §4.4). Grounded on the teacher's
// internal/core/llm/openai.go construction style and worker/ai_worker.go's
// direct *openai.Client usage.
type OpenAIProvider struct {
	pool *KeyPool
}

// NewOpenAIProvider builds the provider against a shared key pool.
func NewOpenAIProvider(pool *KeyPool) *OpenAIProvider {
	return &OpenAIProvider{pool: pool}
}

func (p *OpenAIProvider) Name() string              { return "openai" }
func (p *OpenAIProvider) SupportsImageInput() bool   { return false }

func (p *OpenAIProvider) client(key string) *openai.Client {
	return openai.NewClient(key)
}

func (p *OpenAIProvider) GetResponse(ctx context.Context, req CompletionRequest, toolHandler ToolHandler) (CompletionResult, error) {
	log := logx.With("llm.openai")

	systemText := ""
	for i, b := range req.SystemBlocks {
		if i > 0 {
			systemText += "\n\n"
		}
		systemText += b.Text
	}

	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemText}}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserContent})

	tools := toOpenAITools(req.Tools)

	var result CompletionResult
	for round := 0; round < MaxToolRounds; round++ {
		resp, usedKey, isOverride, err := p.complete(ctx, req.Model, messages, tools, req.AgentOverrideKey)
		if err != nil {
			return result, err
		}
		_ = usedKey
		_ = isOverride

		if len(resp.Choices) == 0 {
			return result, errors.New("openai: empty choices")
		}
		choice := resp.Choices[0]
		result.Usage.Add(Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		})

		if len(choice.Message.ToolCalls) == 0 {
			result.Text = choice.Message.Content
			return result, nil
		}

		messages = append(messages, choice.Message)

		calls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
		}

		toolResults := toolHandler(ctx, calls)
		for _, tr := range toolResults {
			text := tr.Text
			if tr.Media != nil {
				result.MediaActions = append(result.MediaActions, *tr.Media)
				if text == "" {
					text = "media sent"
				}
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    text,
				ToolCallID: tr.ToolCallID,
			})
		}

		log.Debug().Int("round", round+1).Int("tool_calls", len(calls)).Msg("🔧 openai tool round")
	}

	result.Text = "I reached my tool-call limit for this turn."
	return result, nil
}

func (p *OpenAIProvider) complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool, overrideKey string) (openai.ChatCompletionResponse, string, bool, error) {
	lease, ok := p.pool.GetKey(overrideKey)
	if !ok {
		return openai.ChatCompletionResponse{}, "", false, fmt.Errorf("openai: no available key")
	}

	client := p.client(lease.Key)
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.HTTPStatusCode {
			case 429:
				p.pool.ReportRateLimited(lease.Key, 0, lease.IsOverride)
			case 401, 403:
				p.pool.ReportAuthFailure(lease.Key, lease.IsOverride)
			}
		}
		return resp, lease.Key, lease.IsOverride, err
	}
	return resp, lease.Key, lease.IsOverride, nil
}

func (p *OpenAIProvider) GenerateSimpleResponse(ctx context.Context, systemPrompt, prompt string) (string, error) {
	lease, ok := p.pool.GetKey("")
	if !ok {
		return "", fmt.Errorf("openai: no available key")
	}
	client := p.client(lease.Key)

	messages := []openai.ChatCompletionMessage{}
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error) {
	return "", fmt.Errorf("openai: image understanding not supported, route to anthropic provider")
}

func (p *OpenAIProvider) AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (string, error) {
	return "", fmt.Errorf("openai: image understanding not supported, route to anthropic provider")
}

func (p *OpenAIProvider) AnalyzeDocument(ctx context.Context, docBase64, mimeType, prompt string) (string, error) {
	return "", fmt.Errorf("openai: document understanding not supported, route to anthropic provider")
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}
