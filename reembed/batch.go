package reembed

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/doctier/ai"
	"github.com/poiesic/doctier/retry"
	"github.com/poiesic/doctier/vectorindex"
)

// BatchProcessor re-embeds batches of chunks and writes them back.
type BatchProcessor struct {
	backend    vectorindex.Backend
	embedder   ai.Embedder
	maxRetries int
	retryDelay time.Duration
}

// NewBatchProcessor creates a batch processor. Embedding calls are retried up
// to maxRetries times with exponential backoff from retryDelay.
func NewBatchProcessor(backend vectorindex.Backend, embedder ai.Embedder, maxRetries int, retryDelay time.Duration) *BatchProcessor {
	return &BatchProcessor{
		backend:    backend,
		embedder:   embedder,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Process re-embeds the chunk text of points and upserts them into the
// collection under their existing ids. Sparse signatures are recomputed
// from the same text.
func (bp *BatchProcessor) Process(ctx context.Context, collection string, points []vectorindex.Point) error {
	if len(points) == 0 {
		return nil
	}

	texts := make([]string, len(points))
	for i, p := range points {
		texts[i] = p.Payload.ChunkText
	}

	var vectors [][]float32
	err := retry.WithBackoff(ctx, func() error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.maxRetries, bp.retryDelay)
	if err != nil {
		return fmt.Errorf("embedding %d chunks: %w", len(points), err)
	}
	if len(vectors) != len(points) {
		return fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingCountMismatch, len(points), len(vectors))
	}

	updated := make([]vectorindex.Point, len(points))
	for i, p := range points {
		p.Dense = NormalizeVector(vectors[i])
		p.Sparse = vectorindex.Sparse(p.Payload.ChunkText)
		updated[i] = p
	}

	if err := bp.backend.Upsert(ctx, collection, updated); err != nil {
		return fmt.Errorf("writing %d chunks: %w", len(updated), err)
	}
	return nil
}
