// Package vector provides text-embedding generation and cosine-similarity
// search over the embedding columns on KnowledgeItem and AgentMedia,
// adapted from the teacher's internal/core/vector package: same
// EmbeddingProvider interface and OpenAI implementation, repurposed here
// to back the search_knowledge and search_media tools (C5) instead of a
// client-wide KB import pipeline.
package vector

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// EmbeddingProvider generates text embeddings for similarity search.
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GetDimensions() int
}

// OpenAIEmbeddingProvider implements EmbeddingProvider using OpenAI's
// text-embedding-3-small model (1536 dimensions).
type OpenAIEmbeddingProvider struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIEmbeddingProvider builds a provider bound to one API key.
func NewOpenAIEmbeddingProvider(apiKey string) (*OpenAIEmbeddingProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vector: openai api key is required")
	}
	return &OpenAIEmbeddingProvider{
		client: openai.NewClient(apiKey),
		model:  "text-embedding-3-small",
		dims:   1536,
	}, nil
}

func (p *OpenAIEmbeddingProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("vector: text cannot be empty")
	}
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("vector: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIEmbeddingProvider) GetDimensions() int { return p.dims }

// CosineSimilarity scores two equal-length embedding vectors in [-1, 1].
// Mismatched lengths (a stale embedding column, a model change) score 0
// rather than panicking — a reindex is an operational concern, not a
// crash.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
