package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/genfity/wa-agent-core/internal/models"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

func (f *fakeEmbedder) GetDimensions() int { return len(f.vec) }

func TestRankByEmbedding_SortsByDescendingSimilarity(t *testing.T) {
	embedder := &fakeEmbedder{vec: []float32{1, 0}}
	items := []models.KnowledgeItem{
		{Name: "orthogonal", Embedding: []float32{0, 1}},
		{Name: "identical", Embedding: []float32{1, 0}},
		{Name: "opposite", Embedding: []float32{-1, 0}},
	}

	ranked := rankByEmbedding(context.Background(), embedder, "query", items)

	wantOrder := []string{"identical", "orthogonal", "opposite"}
	for i, want := range wantOrder {
		assert.Equal(t, want, ranked[i].Name)
	}
}

func TestRankByEmbedding_ReturnsItemsUnchangedWhenEmbeddingFails(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("boom")}
	items := []models.KnowledgeItem{
		{Name: "first"},
		{Name: "second"},
	}

	ranked := rankByEmbedding(context.Background(), embedder, "query", items)

	assert.Equal(t, "first", ranked[0].Name)
	assert.Equal(t, "second", ranked[1].Name)
}

func TestApplyProductFilters_BareScalarIsImplicitEq(t *testing.T) {
	items := []models.KnowledgeItem{
		{Name: "Widget"},
		{Name: "Gadget"},
	}
	out := applyProductFilters(items, map[string]any{"name": "Widget"})
	assert.Len(t, out, 1)
	assert.Equal(t, "Widget", out[0].Name)
}

func TestApplyProductFilters_PriceLtAndGteOps(t *testing.T) {
	items := []models.KnowledgeItem{
		{Name: "cheap", Price: "49.90"},
		{Name: "mid", Price: "99.90"},
		{Name: "pricey", Price: "199.00"},
	}

	lt := applyProductFilters(items, map[string]any{
		"price": map[string]any{"op": "lt", "value": 100.0},
	})
	assert.Len(t, lt, 2)

	gte := applyProductFilters(items, map[string]any{
		"price": map[string]any{"op": "gte", "value": 100.0},
	})
	assert.Len(t, gte, 1)
	assert.Equal(t, "pricey", gte[0].Name)
}

func TestApplyProductFilters_ContainsOnDescription(t *testing.T) {
	items := []models.KnowledgeItem{
		{Name: "a", Description: "wireless bluetooth speaker"},
		{Name: "b", Description: "wired headphones"},
	}
	out := applyProductFilters(items, map[string]any{
		"description": map[string]any{"op": "contains", "value": "bluetooth"},
	})
	assert.Len(t, out, 1)
	assert.Equal(t, "a", out[0].Name)
}

func TestApplyProductFilters_NonNumericPriceNeverMatchesComparisonOps(t *testing.T) {
	items := []models.KnowledgeItem{{Name: "broken", Price: "call us"}}
	out := applyProductFilters(items, map[string]any{
		"price": map[string]any{"op": "gt", "value": 10.0},
	})
	assert.Empty(t, out)
}
