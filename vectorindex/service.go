// Package vectorindex stores document chunks in per-scope collections and
// answers hybrid queries over them.
//
// Every chunk is indexed twice: a dense embedding from the configured
// ai.Embedder and a sparse lexical signature from Sparse. Search runs both
// queries and merges the ranked lists with reciprocal rank fusion, so a
// chunk that matches on meaning and on exact terms rises to the top.
//
// Storage is delegated to a Backend. The local backend keeps points in
// BadgerDB; the qdrant backend talks to a Qdrant server.
package vectorindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/doctier/ai"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/retry"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBatchSize is the number of chunks embedded per request.
	DefaultBatchSize = 32
	// DefaultConcurrency is the number of batches embedded at once.
	DefaultConcurrency = 4
	// DefaultMaxAttempts is the number of tries per batch.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the backoff before the second try.
	DefaultRetryDelay = 200 * time.Millisecond
	// DefaultSearchLimit is the number of hits returned when none is requested.
	DefaultSearchLimit = 5
)

// ChunkMetadata is the document metadata copied onto every chunk.
type ChunkMetadata struct {
	Filename   string
	MimeType   string
	FileSize   int64
	TokenCount int
}

// SearchOptions controls a query.
type SearchOptions struct {
	// Limit is the maximum number of hits. Zero means DefaultSearchLimit.
	Limit int
	// ScoreThreshold drops hits whose fused score is below it when positive.
	ScoreThreshold float64
	// DocumentID restricts the search to one document when set.
	DocumentID string
}

// Service indexes and searches chunks over a Backend.
type Service struct {
	backend     Backend
	embedder    ai.Embedder
	dimensions  int
	batchSize   int
	concurrency int
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
	logger      *slog.Logger

	// ensureMu serializes collection creation.
	ensureMu sync.Mutex
}

// Option configures a Service.
type Option func(*Service) error

// WithBatchSize sets how many chunks are embedded per request.
func WithBatchSize(size int) Option {
	return func(s *Service) error {
		if size < 1 {
			return fmt.Errorf("vectorindex: batch size must be positive, got %d", size)
		}
		s.batchSize = size
		return nil
	}
}

// WithConcurrency sets how many batches are embedded and written at once.
func WithConcurrency(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			return fmt.Errorf("vectorindex: concurrency must be positive, got %d", n)
		}
		s.concurrency = n
		return nil
	}
}

// WithRetry sets the attempts and base backoff for embedding and write calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Service) error {
		if maxAttempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		if baseDelay < 0 {
			return fmt.Errorf("vectorindex: retry delay must not be negative, got %s", baseDelay)
		}
		s.maxAttempts = maxAttempts
		s.retryDelay = baseDelay
		return nil
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return errors.New("vectorindex: clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewService creates a Service. The provider's dimensions size new collections.
func NewService(backend Backend, provider ai.AIProvider, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Service{
		backend:     backend,
		embedder:    provider.Embedder(),
		dimensions:  provider.Dimensions(),
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "vectorindex")
	return s, nil
}

// Dimensions returns the dense vector size of the collections this service creates.
func (s *Service) Dimensions() int {
	return s.dimensions
}

// Backend returns the underlying storage backend.
func (s *Service) Backend() Backend {
	return s.backend
}

// EnsureCollection creates the scope's collection if needed. Idempotent.
func (s *Service) EnsureCollection(ctx context.Context, scope core.Scope) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()

	if err := s.backend.EnsureCollection(ctx, scope.Name, s.dimensions); err != nil {
		return fmt.Errorf("%w: ensure collection %s: %w", core.ErrIndexWriteFailed, scope.Name, err)
	}
	return nil
}

// UpsertChunks embeds and indexes the chunks of one document. Chunks are
// embedded in batches with bounded parallelism and every batch is retried
// with backoff. If any batch fails, points already written for the document
// are removed before the error is returned. Returns the number of chunks
// indexed.
func (s *Service) UpsertChunks(ctx context.Context, scope core.Scope, documentID string, chunks []string, meta ChunkMetadata, ttlDays *int) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := s.EnsureCollection(ctx, scope); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	var expiresAt time.Time
	if ttlDays != nil {
		expiresAt = now.AddDate(0, 0, *ttlDays)
	}

	points := make([]Point, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		g.Go(func() error {
			var vectors [][]float32
			err := retry.WithBackoff(gctx, func() error {
				var err error
				vectors, err = s.embedder.EmbedTexts(gctx, chunks[start:end])
				if err == nil && len(vectors) != end-start {
					err = fmt.Errorf("expected %d embeddings, got %d", end-start, len(vectors))
				}
				return err
			}, s.maxAttempts, s.retryDelay)
			if err != nil {
				return fmt.Errorf("%w: chunks %d-%d: %w", core.ErrEmbeddingFailed, start, end-1, err)
			}

			for i, vector := range vectors {
				idx := start + i
				if len(vector) != s.dimensions {
					return fmt.Errorf("%w: chunk %d: %w: got %d, want %d", core.ErrEmbeddingFailed, idx, ErrDimensionMismatch, len(vector), s.dimensions)
				}
				points[idx] = Point{
					ID:     PointID(documentID, idx),
					Dense:  vector,
					Sparse: Sparse(chunks[idx]),
					Payload: Payload{
						DocumentID: documentID,
						ChunkIndex: idx,
						ChunkText:  chunks[idx],
						Filename:   meta.Filename,
						MimeType:   meta.MimeType,
						FileSize:   meta.FileSize,
						TokenCount: meta.TokenCount,
						CreatedAt:  now,
						ExpiresAt:  expiresAt,
					},
				}
			}

			batch := points[start:end]
			err = retry.WithBackoff(gctx, func() error {
				return s.backend.Upsert(gctx, scope.Name, batch)
			}, s.maxAttempts, s.retryDelay)
			if err != nil {
				return fmt.Errorf("%w: chunks %d-%d: %w", core.ErrIndexWriteFailed, start, end-1, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("chunk indexing failed, removing partial writes", "scope", scope.Name, "document_id", documentID, "err", err)
		if derr := s.backend.DeleteByDocument(context.WithoutCancel(ctx), scope.Name, documentID); derr != nil && !errors.Is(derr, ErrCollectionNotFound) {
			s.logger.Warn("failed to remove partial writes", "scope", scope.Name, "document_id", documentID, "err", derr)
		}
		return 0, err
	}

	s.logger.Debug("indexed chunks", "scope", scope.Name, "document_id", documentID, "chunks", len(chunks))
	return len(chunks), nil
}

// DeleteDocument removes every chunk of a document. Deleting from a missing
// collection succeeds.
func (s *Service) DeleteDocument(ctx context.Context, scope core.Scope, documentID string) error {
	err := s.backend.DeleteByDocument(ctx, scope.Name, documentID)
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return fmt.Errorf("%w: delete document %s from %s: %w", core.ErrIndexWriteFailed, documentID, scope.Name, err)
	}
	return nil
}

// DeleteScope removes a scope's collection. Deleting a missing collection succeeds.
func (s *Service) DeleteScope(ctx context.Context, scope core.Scope) error {
	err := s.backend.DeleteCollection(ctx, scope.Name)
	if err != nil && !errors.Is(err, ErrCollectionNotFound) {
		return fmt.Errorf("%w: delete collection %s: %w", core.ErrIndexWriteFailed, scope.Name, err)
	}
	return nil
}

// CleanupExpired removes the scope's expired chunks and returns how many were removed.
func (s *Service) CleanupExpired(ctx context.Context, scope core.Scope) (int, error) {
	n, err := s.backend.DeleteExpired(ctx, scope.Name, s.now())
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup %s: %w", core.ErrIndexWriteFailed, scope.Name, err)
	}
	if n > 0 {
		s.logger.Info("removed expired chunks", "scope", scope.Name, "count", n)
	}
	return n, nil
}

// Count returns the number of chunks in a scope. A missing scope holds none.
func (s *Service) Count(ctx context.Context, scope core.Scope) (int, error) {
	n, err := s.backend.Count(ctx, scope.Name)
	if errors.Is(err, ErrCollectionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", core.ErrIndexReadFailed, scope.Name, err)
	}
	return n, nil
}

// Search runs a hybrid query against one scope. Dense and sparse candidates
// are fetched in parallel, twice the limit each, and fused with reciprocal
// rank fusion. If one query fails the other's results are still used. A
// missing scope returns no hits.
func (s *Service) Search(ctx context.Context, scope core.Scope, query string, opts SearchOptions) ([]core.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return []core.SearchHit{}, nil
	}
	return s.search(ctx, scope, query, s.queryEmbedder(ctx, query), opts)
}

// queryEmbedder embeds query on first call and returns the same vector, or
// error, to every later caller. Missing scopes never trigger the call.
func (s *Service) queryEmbedder(ctx context.Context, query string) func() ([]float32, error) {
	return sync.OnceValues(func() ([]float32, error) {
		return s.embedder.EmbedText(ctx, query)
	})
}

func (s *Service) search(ctx context.Context, scope core.Scope, query string, embed func() ([]float32, error), opts SearchOptions) ([]core.SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	exists, err := s.backend.CollectionExists(ctx, scope.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrIndexReadFailed, scope.Name, err)
	}
	if !exists {
		return []core.SearchHit{}, nil
	}

	filter := Filter{DocumentID: opts.DocumentID, ActiveAt: s.now()}
	prefetch := 2 * limit

	var (
		dense, sparse       []Candidate
		denseErr, sparseErr error
		wg                  sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vector, err := embed()
		if err != nil {
			denseErr = fmt.Errorf("%w: %w", core.ErrEmbeddingFailed, err)
			return
		}
		dense, denseErr = s.backend.DenseSearch(ctx, scope.Name, vector, filter, prefetch)
	}()
	go func() {
		defer wg.Done()
		signature := Sparse(query)
		if len(signature.Indices) == 0 {
			return
		}
		sparse, sparseErr = s.backend.SparseSearch(ctx, scope.Name, signature, filter, prefetch)
	}()
	wg.Wait()

	if errors.Is(denseErr, ErrCollectionNotFound) || errors.Is(sparseErr, ErrCollectionNotFound) {
		return []core.SearchHit{}, nil
	}
	switch {
	case denseErr != nil && sparseErr != nil:
		return nil, fmt.Errorf("%w: %s: %w", core.ErrIndexReadFailed, scope.Name, errors.Join(denseErr, sparseErr))
	case denseErr != nil:
		s.logger.Warn("dense search failed, using lexical results only", "scope", scope.Name, "err", denseErr)
	case sparseErr != nil:
		s.logger.Warn("sparse search failed, using semantic results only", "scope", scope.Name, "err", sparseErr)
	}

	fused := Fuse(dense, sparse)
	hits := make([]core.SearchHit, 0, min(limit, len(fused)))
	for _, f := range fused {
		if opts.ScoreThreshold > 0 && f.Score < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, core.SearchHit{
			DocumentID: f.Payload.DocumentID,
			ChunkIndex: f.Payload.ChunkIndex,
			Text:       f.Payload.ChunkText,
			Filename:   f.Payload.Filename,
			MimeType:   f.Payload.MimeType,
			Scope:      scope.Name,
			Score:      f.Score,
		})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// SearchScopes searches several scopes and merges the hits by score. A scope
// that fails contributes nothing. Repeated scopes are searched once.
func (s *Service) SearchScopes(ctx context.Context, scopes []core.Scope, query string, opts SearchOptions) ([]core.SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	seen := make(map[string]bool, len(scopes))
	unique := make([]core.Scope, 0, len(scopes))
	for _, scope := range scopes {
		if !seen[scope.Name] {
			seen[scope.Name] = true
			unique = append(unique, scope)
		}
	}

	if strings.TrimSpace(query) == "" {
		return []core.SearchHit{}, nil
	}
	// Scopes share one query embedding.
	embed := s.queryEmbedder(ctx, query)

	results := make([][]core.SearchHit, len(unique))
	var g errgroup.Group
	for i, scope := range unique {
		g.Go(func() error {
			hits, err := s.search(ctx, scope, query, embed, opts)
			if err != nil {
				s.logger.Warn("scope search failed", "scope", scope.Name, "err", err)
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var merged []core.SearchHit
	for _, hits := range results {
		merged = append(merged, hits...)
	}
	slices.SortStableFunc(merged, func(a, b core.SearchHit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []core.SearchHit{}
	}
	return merged, nil
}

// Scan calls fn for every chunk stored in a scope. A missing scope yields nothing.
func (s *Service) Scan(ctx context.Context, scope core.Scope, fn func(Point) error) error {
	err := s.backend.Scan(ctx, scope.Name, fn)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return err
}
