package reembed

import (
	"context"

	"github.com/poiesic/doctier/vectorindex"
)

// DefaultBatchSize is the number of chunks re-embedded per call.
const DefaultBatchSize = 64

// PointIterator reads a collection and hands it out in batches.
type PointIterator struct {
	backend   vectorindex.Backend
	batchSize int
}

// NewPointIterator creates an iterator. Non-positive batch sizes use DefaultBatchSize.
func NewPointIterator(backend vectorindex.Backend, batchSize int) *PointIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PointIterator{backend: backend, batchSize: batchSize}
}

// Load returns every point in the collection. The whole collection is read
// before anything is written so rewrites never race the scan.
func (it *PointIterator) Load(ctx context.Context, collection string) ([]vectorindex.Point, error) {
	var points []vectorindex.Point
	err := it.backend.Scan(ctx, collection, func(p vectorindex.Point) error {
		points = append(points, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// Batches calls fn with consecutive slices of points. Iteration stops at the
// first error or when ctx is cancelled.
func (it *PointIterator) Batches(ctx context.Context, points []vectorindex.Point, fn func([]vectorindex.Point) error) error {
	for start := 0; start < len(points); start += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+it.batchSize, len(points))
		if err := fn(points[start:end]); err != nil {
			return err
		}
	}
	return nil
}
