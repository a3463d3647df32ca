package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockEmbedder_Deterministic(t *testing.T) {
	m := NewMockEmbedderWithDimensions(16)
	ctx := context.Background()

	a, err := m.EmbedText(ctx, "same text")
	require.NoError(t, err)
	b, err := m.EmbedText(ctx, "same text")
	require.NoError(t, err)
	c, err := m.EmbedText(ctx, "other text")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
	assert.Equal(t, 3, m.CallCount())
}

func TestMockEmbedder_UnitLength(t *testing.T) {
	vec := generateDeterministicVector("normalize me", 32)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder_CustomFunc(t *testing.T) {
	m := NewMockEmbedder()
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("boom")
	}

	_, err := m.EmbedTexts(context.Background(), []string{"x"})
	assert.Error(t, err)

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
	vecs, err := m.EmbedTexts(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], DefaultDimensions)
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	defer p.Close()

	assert.Equal(t, DefaultDimensions, p.Dimensions())
	assert.NotNil(t, p.Embedder())
	assert.NotNil(t, p.(*MockProvider).GetMockEmbedder())
}
