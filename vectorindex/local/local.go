// Package local implements vectorindex.Backend on top of BadgerDB.
//
// Points are stored under per-collection key prefixes and queried by brute
// force: dense queries score every live point by cosine similarity, sparse
// queries weight shared terms by inverse document frequency computed over the
// collection. Expiring points are written with a Badger TTL so they vanish on
// their own even if cleanup never runs.
package local

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/doctier/core"
	storebadger "github.com/poiesic/doctier/storage/badger"
	"github.com/poiesic/doctier/vectorindex"
)

// writeBatchSize bounds the number of writes per transaction.
const writeBatchSize = 256

// Index is a vectorindex.Backend persisted in BadgerDB.
type Index struct {
	backend *storebadger.Backend
	now     func() time.Time
	logger  *slog.Logger
}

var _ vectorindex.Backend = (*Index)(nil)

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger
		return nil
	}
}

// New creates an Index over an open Badger backend. The backend may be
// shared with the document repositories; key prefixes keep them apart.
func New(backend *storebadger.Backend, opts ...Option) (*Index, error) {
	if backend == nil {
		return nil, vectorindex.ErrBackendRequired
	}
	idx := &Index{
		backend: backend,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(idx); err != nil {
			return nil, err
		}
	}
	idx.logger = idx.logger.With("component", "local-vectorindex")
	return idx, nil
}

// OpenMemory creates an Index over a fresh in-memory Badger database. The
// database is closed with the Index.
func OpenMemory(opts ...Option) (*Index, error) {
	backend, err := storebadger.OpenBackend("", true)
	if err != nil {
		return nil, err
	}
	idx, err := New(backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return idx, nil
}

// Close closes the underlying Badger database.
func (i *Index) Close() error {
	if i.backend.IsClosed() {
		return nil
	}
	return i.backend.Close()
}

func (i *Index) loadCollection(tx *badger.Txn, name string) (collectionMeta, error) {
	item, err := tx.Get(collectionKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return collectionMeta{}, fmt.Errorf("%w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	if err != nil {
		return collectionMeta{}, err
	}
	var meta collectionMeta
	err = item.Value(func(val []byte) error {
		meta, err = unmarshalCollection(val)
		return err
	})
	return meta, err
}

func (i *Index) EnsureCollection(ctx context.Context, name string, dimensions int) error {
	if dimensions < 1 {
		return fmt.Errorf("%w: dimensions must be positive, got %d", vectorindex.ErrDimensionMismatch, dimensions)
	}
	return i.backend.Update(ctx, func(tx *badger.Txn) error {
		meta, err := i.loadCollection(tx, name)
		if err == nil {
			if meta.Dimensions != dimensions {
				return fmt.Errorf("%w: collection %s has %d dimensions, requested %d", vectorindex.ErrDimensionMismatch, name, meta.Dimensions, dimensions)
			}
			return nil
		}
		if !errors.Is(err, vectorindex.ErrCollectionNotFound) {
			return err
		}
		i.logger.Debug("creating collection", "collection", name, "dimensions", dimensions)
		return tx.Set(collectionKey(name), marshalCollection(collectionMeta{Dimensions: dimensions}))
	})
}

func (i *Index) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var exists bool
	err := i.backend.WithTx(func(tx *badger.Txn) error {
		_, err := i.loadCollection(tx, name)
		if errors.Is(err, vectorindex.ErrCollectionNotFound) {
			return nil
		}
		exists = err == nil
		return err
	}, false)
	return exists, err
}

func (i *Index) requireCollection(ctx context.Context, name string) (collectionMeta, error) {
	if err := ctx.Err(); err != nil {
		return collectionMeta{}, err
	}
	var meta collectionMeta
	err := i.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		meta, err = i.loadCollection(tx, name)
		return err
	}, false)
	return meta, err
}

func (i *Index) DeleteCollection(ctx context.Context, name string) error {
	if _, err := i.requireCollection(ctx, name); err != nil {
		return err
	}
	if err := i.backend.DropPrefix(collectionPointsPrefix(name), collectionKey(name)); err != nil {
		return err
	}
	i.logger.Debug("deleted collection", "collection", name)
	return nil
}

func (i *Index) Upsert(ctx context.Context, name string, points []vectorindex.Point) error {
	meta, err := i.requireCollection(ctx, name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Dense) != meta.Dimensions {
			return fmt.Errorf("%w: point %s has %d dimensions, collection %s has %d", vectorindex.ErrDimensionMismatch, p.ID, len(p.Dense), name, meta.Dimensions)
		}
	}

	for start := 0; start < len(points); start += writeBatchSize {
		batch := points[start:min(start+writeBatchSize, len(points))]
		err := i.backend.Update(ctx, func(tx *badger.Txn) error {
			for j := range batch {
				p := &batch[j]
				entry := badger.NewEntry(pointKey(name, p.Payload.DocumentID, p.Payload.ChunkIndex), marshalPoint(p))
				if !p.Payload.ExpiresAt.IsZero() {
					entry.ExpiresAt = uint64(p.Payload.ExpiresAt.Unix())
				}
				if err := tx.SetEntry(entry); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// deleteKeys removes keys in bounded transactions.
func (i *Index) deleteKeys(ctx context.Context, keys [][]byte) error {
	for start := 0; start < len(keys); start += writeBatchSize {
		batch := keys[start:min(start+writeBatchSize, len(keys))]
		err := i.backend.Update(ctx, func(tx *badger.Txn) error {
			for _, key := range batch {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (i *Index) DeleteByDocument(ctx context.Context, name, documentID string) error {
	if _, err := i.requireCollection(ctx, name); err != nil {
		return err
	}

	var keys [][]byte
	err := i.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = documentPointsPrefix(name, documentID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		return nil
	}, false)
	if err != nil {
		return err
	}
	return i.deleteKeys(ctx, keys)
}

func (i *Index) DeleteExpired(ctx context.Context, name string, before time.Time) (int, error) {
	if _, err := i.requireCollection(ctx, name); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := i.scan(ctx, name, func(key []byte, p *vectorindex.Point) error {
		if p.Payload.Expired(before) {
			keys = append(keys, bytes.Clone(key))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := i.deleteKeys(ctx, keys); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// scan decodes every point of a collection in key order. Points already
// expired by their Badger TTL are not visited.
func (i *Index) scan(ctx context.Context, name string, fn func(key []byte, p *vectorindex.Point) error) error {
	return i.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = collectionPointsPrefix(name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			var p *vectorindex.Point
			err := item.Value(func(val []byte) error {
				var err error
				p, err = unmarshalPoint(val)
				return err
			})
			if err != nil {
				return fmt.Errorf("point %q: %w", item.Key(), err)
			}
			if err := fn(item.Key(), p); err != nil {
				return err
			}
		}
		return nil
	}, false)
}

func (i *Index) DenseSearch(ctx context.Context, name string, vector []float32, filter vectorindex.Filter, limit int) ([]vectorindex.Candidate, error) {
	meta, err := i.requireCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != meta.Dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s has %d", vectorindex.ErrDimensionMismatch, len(vector), name, meta.Dimensions)
	}

	var candidates []vectorindex.Candidate
	err = i.scan(ctx, name, func(_ []byte, p *vectorindex.Point) error {
		if !filter.Match(p.Payload) {
			return nil
		}
		candidates = append(candidates, vectorindex.Candidate{
			ID:      p.ID,
			Payload: p.Payload,
			Score:   cosine(vector, p.Dense),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return topK(candidates, limit), nil
}

func (i *Index) SparseSearch(ctx context.Context, name string, vector core.SparseVector, filter vectorindex.Filter, limit int) ([]vectorindex.Candidate, error) {
	if _, err := i.requireCollection(ctx, name); err != nil {
		return nil, err
	}

	// First pass: document frequency of each query term among live points.
	var live []*vectorindex.Point
	df := make(map[uint32]int, len(vector.Indices))
	total := 0
	err := i.scan(ctx, name, func(_ []byte, p *vectorindex.Point) error {
		if !filter.ActiveAt.IsZero() && p.Payload.Expired(filter.ActiveAt) {
			return nil
		}
		total++
		for _, idx := range p.Sparse.Indices {
			if _, ok := slices.BinarySearch(vector.Indices, idx); ok {
				df[idx]++
			}
		}
		if filter.Match(p.Payload) {
			p.Dense = nil
			live = append(live, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	weights := make([]float64, len(vector.Indices))
	for j, idx := range vector.Indices {
		weights[j] = float64(vector.Values[j]) * idf(total, df[idx])
	}

	var candidates []vectorindex.Candidate
	for _, p := range live {
		score := sparseDot(vector.Indices, weights, p.Sparse)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, vectorindex.Candidate{
			ID:      p.ID,
			Payload: p.Payload,
			Score:   score,
		})
	}
	return topK(candidates, limit), nil
}

func (i *Index) Scan(ctx context.Context, name string, fn func(vectorindex.Point) error) error {
	if _, err := i.requireCollection(ctx, name); err != nil {
		return err
	}
	return i.scan(ctx, name, func(_ []byte, p *vectorindex.Point) error {
		return fn(*p)
	})
}

func (i *Index) Count(ctx context.Context, name string) (int, error) {
	if _, err := i.requireCollection(ctx, name); err != nil {
		return 0, err
	}
	n := 0
	err := i.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = collectionPointsPrefix(name)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			n++
		}
		return nil
	}, false)
	return n, err
}

// cosine returns the cosine similarity of two equal length vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// idf is the BM25 style inverse document frequency used by Qdrant's IDF modifier.
func idf(total, df int) float64 {
	if df == 0 {
		return 0
	}
	return math.Log(1 + (float64(total-df)+0.5)/(float64(df)+0.5))
}

// sparseDot multiplies two sparse vectors with sorted indices.
func sparseDot(indices []uint32, weights []float64, v core.SparseVector) float64 {
	var score float64
	i, j := 0, 0
	for i < len(indices) && j < len(v.Indices) {
		switch {
		case indices[i] < v.Indices[j]:
			i++
		case indices[i] > v.Indices[j]:
			j++
		default:
			score += weights[i] * float64(v.Values[j])
			i++
			j++
		}
	}
	return score
}

// topK sorts candidates by score and keeps the first limit.
func topK(candidates []vectorindex.Candidate, limit int) []vectorindex.Candidate {
	slices.SortStableFunc(candidates, func(a, b vectorindex.Candidate) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
