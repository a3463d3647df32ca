package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/doctier/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer answers /v1/embeddings with dims-sized vectors, one per input.
func embeddingServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[i%dims] = 1
			data[i] = item{Object: "embedding", Embedding: vec, Index: i}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	server := embeddingServer(t, 4)
	defer server.Close()

	embedder, err := NewEmbedder(ai.NewConfig(
		ai.WithEmbeddingHost(server.URL),
		ai.WithEmbeddingModel("test-embed"),
		ai.WithDimensions(4),
	))
	require.NoError(t, err)

	vectors, err := embedder.EmbedTexts(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Len(t, vectors[0], 4)

	single, err := embedder.EmbedText(context.Background(), "gamma")
	require.NoError(t, err)
	assert.Len(t, single, 4)
}

func TestEmbedder_DimensionMismatch(t *testing.T) {
	server := embeddingServer(t, 3)
	defer server.Close()

	embedder, err := NewEmbedder(ai.NewConfig(
		ai.WithEmbeddingHost(server.URL),
		ai.WithEmbeddingModel("test-embed"),
		ai.WithDimensions(8),
	))
	require.NoError(t, err)

	_, err = embedder.EmbedTexts(context.Background(), []string{"alpha"})
	assert.Error(t, err)
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(&ai.Config{})
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	provider, err := NewProvider(ai.NewConfig(ai.WithDimensions(16)))
	require.NoError(t, err)
	defer provider.Close()

	assert.NotNil(t, provider.Embedder())
	assert.Equal(t, 16, provider.Dimensions())
}
