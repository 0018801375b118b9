package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// GeminiProvider implements Provider over the Google-class backend: tools
// converted from the canonical schema to the provider's FunctionDeclaration
// format and system blocks concatenated into a single instruction (spec
// §4.4); no tool-usage suffix is appended to that instruction. Grounded on
// mygads-clivy-wa-support/services/gemini.go's genai.Client construction.
// Image input is not supported here — the factory/router never sends this
// provider a request with HasImageInput() true.
type GeminiProvider struct {
	pool *KeyPool
}

func NewGeminiProvider(pool *KeyPool) *GeminiProvider {
	return &GeminiProvider{pool: pool}
}

func (p *GeminiProvider) Name() string            { return "gemini" }
func (p *GeminiProvider) SupportsImageInput() bool { return false }

func (p *GeminiProvider) client(ctx context.Context, key string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
}

func (p *GeminiProvider) GetResponse(ctx context.Context, req CompletionRequest, toolHandler ToolHandler) (CompletionResult, error) {
	log := logx.With("llm.gemini")

	instruction := ""
	for i, b := range req.SystemBlocks {
		if i > 0 {
			instruction += "\n\n"
		}
		instruction += b.Text
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		contents = append(contents, textContent(m.Role, m.Text))
	}
	contents = append(contents, textContent(RoleUser, req.UserContent))

	tools := toGeminiTools(req.Tools)

	var result CompletionResult
	for round := 0; round < MaxToolRounds; round++ {
		lease, ok := p.pool.GetKey(req.AgentOverrideKey)
		if !ok {
			return result, fmt.Errorf("gemini: no available key")
		}
		client, err := p.client(ctx, lease.Key)
		if err != nil {
			return result, err
		}

		cfg := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
			Tools:             tools,
		}

		resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
		if err != nil {
			if ge, ok := err.(*genai.APIError); ok {
				switch ge.Code {
				case 429:
					p.pool.ReportRateLimited(lease.Key, 0, lease.IsOverride)
				case 401, 403:
					p.pool.ReportAuthFailure(lease.Key, lease.IsOverride)
				}
			}
			return result, err
		}

		if resp.UsageMetadata != nil {
			result.Usage.Add(Usage{
				InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
			})
		}

		if len(resp.Candidates) == 0 {
			return result, fmt.Errorf("gemini: empty candidates")
		}
		candidateContent := resp.Candidates[0].Content

		var text string
		var calls []ToolCall
		for i, part := range candidateContent.Parts {
			if part.Text != "" {
				text += part.Text
			}
			if part.FunctionCall != nil {
				callID := fmt.Sprintf("%s-%d", part.FunctionCall.Name, i)
				calls = append(calls, ToolCall{ID: callID, Name: part.FunctionCall.Name, Args: part.FunctionCall.Args})
			}
		}

		if len(calls) == 0 {
			result.Text = text
			return result, nil
		}

		contents = append(contents, candidateContent)

		toolResults := toolHandler(ctx, calls)
		responseParts := make([]*genai.Part, 0, len(toolResults))
		for _, tr := range toolResults {
			content := tr.Text
			if tr.Media != nil {
				result.MediaActions = append(result.MediaActions, *tr.Media)
				if content == "" {
					content = "media sent"
				}
			}
			responseParts = append(responseParts, genai.NewPartFromFunctionResponse(tr.Name, map[string]any{"result": content}))
		}
		contents = append(contents, genai.NewContentFromParts(responseParts, genai.RoleUser))

		log.Debug().Int("round", round+1).Int("tool_calls", len(calls)).Msg("🔧 gemini tool round")
	}

	result.Text = "I reached my tool-call limit for this turn."
	return result, nil
}

func (p *GeminiProvider) GenerateSimpleResponse(ctx context.Context, systemPrompt, prompt string) (string, error) {
	lease, ok := p.pool.GetKey("")
	if !ok {
		return "", fmt.Errorf("gemini: no available key")
	}
	client, err := p.client(ctx, lease.Key)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := client.Models.GenerateContent(ctx, "gemini-2.5-flash", []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, cfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini: empty candidates")
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		text += part.Text
	}
	return text, nil
}

func (p *GeminiProvider) DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error) {
	return "", fmt.Errorf("gemini: image understanding not supported, route to anthropic provider")
}

func (p *GeminiProvider) AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (string, error) {
	return "", fmt.Errorf("gemini: image understanding not supported, route to anthropic provider")
}

func (p *GeminiProvider) AnalyzeDocument(ctx context.Context, docBase64, mimeType, prompt string) (string, error) {
	return "", fmt.Errorf("gemini: document understanding not supported, route to anthropic provider")
}

func textContent(role Role, text string) *genai.Content {
	r := genai.RoleUser
	if role == RoleAssistant {
		r = genai.RoleModel
	}
	return genai.NewContentFromText(text, r)
}

func toGeminiTools(specs []ToolSpec) []*genai.Tool {
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		raw, _ := json.Marshal(s.Parameters)
		var schema genai.Schema
		_ = json.Unmarshal(raw, &schema)
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  &schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}
