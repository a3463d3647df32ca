package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/doctier/core"
)

// Named vectors every collection carries.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// Payload is the metadata stored alongside each chunk.
type Payload struct {
	DocumentID string
	ChunkIndex int
	ChunkText  string
	Filename   string
	MimeType   string
	FileSize   int64
	TokenCount int
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero when the chunk never expires
}

// Expired reports whether the payload's expiry is set and before now.
func (p Payload) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// Point is one indexed chunk.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  core.SparseVector
	Payload Payload
}

// Candidate is a point returned from a single dense or sparse query.
type Candidate struct {
	ID      string
	Payload Payload
	Score   float64
}

// Filter narrows a query.
type Filter struct {
	// DocumentID restricts results to one document when set.
	DocumentID string
	// ActiveAt excludes points whose expiry is before this instant when set.
	ActiveAt time.Time
}

// Match reports whether a payload passes the filter.
func (f Filter) Match(p Payload) bool {
	if f.DocumentID != "" && p.DocumentID != f.DocumentID {
		return false
	}
	if !f.ActiveAt.IsZero() && p.Expired(f.ActiveAt) {
		return false
	}
	return true
}

// Backend stores and queries points in named collections.
// Operations other than EnsureCollection and CollectionExists return
// ErrCollectionNotFound when the collection does not exist.
// Implementations must be safe for concurrent use.
type Backend interface {
	// EnsureCollection creates the collection if it does not exist. Idempotent.
	EnsureCollection(ctx context.Context, name string, dimensions int) error

	// CollectionExists reports whether the collection exists.
	CollectionExists(ctx context.Context, name string) (bool, error)

	// DeleteCollection removes the collection and every point in it.
	DeleteCollection(ctx context.Context, name string) error

	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, name string, points []Point) error

	// DeleteByDocument removes every point of a document.
	DeleteByDocument(ctx context.Context, name, documentID string) error

	// DeleteExpired removes points whose expiry is before the given time and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, name string, before time.Time) (int, error)

	// DenseSearch returns up to limit points ranked by cosine similarity.
	DenseSearch(ctx context.Context, name string, vector []float32, filter Filter, limit int) ([]Candidate, error)

	// SparseSearch returns up to limit points ranked by IDF weighted term overlap.
	SparseSearch(ctx context.Context, name string, vector core.SparseVector, filter Filter, limit int) ([]Candidate, error)

	// Scan calls fn for every point in the collection. Vectors may be omitted.
	Scan(ctx context.Context, name string, fn func(Point) error) error

	// Count returns the number of points in the collection.
	Count(ctx context.Context, name string) (int, error)

	// Close releases resources held by the backend.
	Close() error
}

// PointID derives the stable point id of a chunk. Re-indexing the same
// document overwrites its points instead of duplicating them.
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s:%d", documentID, chunkIndex)).String()
}
