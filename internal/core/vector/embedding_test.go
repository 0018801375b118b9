package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosineSimilarity_IdenticalVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectors(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarity_OppositeVectors(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{-1, -2, -3}
	assert.InDelta(t, -1.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarity_MismatchedLengthScoresZero(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{1, 2}
	assert.Equal(t, 0.0, CosineSimilarity(a, b))
}

func TestCosineSimilarity_EmptyVectorsScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity(nil, nil))
}

func TestCosineSimilarity_ZeroVectorScoresZero(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, 0.0, CosineSimilarity(a, b))
}

func TestNewOpenAIEmbeddingProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIEmbeddingProvider("")
	assert.Error(t, err)
}

func TestOpenAIEmbeddingProvider_Dimensions(t *testing.T) {
	p, err := NewOpenAIEmbeddingProvider("sk-test")
	assert.NoError(t, err)
	assert.Equal(t, 1536, p.GetDimensions())
}
