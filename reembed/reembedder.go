// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/doctier/ai"
	"github.com/poiesic/doctier/vectorindex"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of chunks embedded per call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Result summarizes one collection.
type Result struct {
	Collection string
	Chunks     int
	Skipped    int // expired chunks dropped instead of re-embedded
	Recreated  bool
	Elapsed    time.Duration
}

// Reembedder rebuilds the vectors of whole collections with a new embedder.
type Reembedder struct {
	backend    vectorindex.Backend
	embedder   ai.Embedder
	dimensions int
	config     *Config
	progress   io.Writer
	processor  *BatchProcessor
	iterator   *PointIterator
	now        func() time.Time
}

// NewReembedder creates a reembedder writing through backend with the
// provider's embedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(backend vectorindex.Backend, provider ai.AIProvider, config *Config, progress io.Writer) (*Reembedder, error) {
	if backend == nil {
		return nil, vectorindex.ErrBackendRequired
	}
	if provider == nil {
		return nil, vectorindex.ErrAIProviderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	embedder := provider.Embedder()
	return &Reembedder{
		backend:    backend,
		embedder:   embedder,
		dimensions: provider.Dimensions(),
		config:     config,
		progress:   progress,
		processor:  NewBatchProcessor(backend, embedder, config.MaxRetries, config.RetryDelay),
		iterator:   NewPointIterator(backend, config.BatchSize),
		now:        time.Now,
	}, nil
}

// Run re-embeds every listed collection in turn. Collections that do not
// exist are skipped. The first failure stops the run; results for completed
// collections are still returned.
func (r *Reembedder) Run(ctx context.Context, collections ...string) ([]Result, error) {
	results := make([]Result, 0, len(collections))
	for _, name := range collections {
		res, err := r.runCollection(ctx, name)
		if errors.Is(err, vectorindex.ErrCollectionNotFound) {
			fmt.Fprintf(r.progress, "Skipping %s: collection not found\n", name)
			continue
		}
		if err != nil {
			return results, fmt.Errorf("reindex %s: %w", name, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Reembedder) runCollection(ctx context.Context, name string) (Result, error) {
	res := Result{Collection: name}

	points, err := r.iterator.Load(ctx, name)
	if err != nil {
		return res, err
	}

	now := r.now()
	live := points[:0]
	for _, p := range points {
		if p.Payload.Expired(now) {
			res.Skipped++
			continue
		}
		live = append(live, p)
	}

	if res.Skipped > 0 {
		if _, err := r.backend.DeleteExpired(ctx, name, now); err != nil {
			return res, err
		}
	}

	// A different vector size cannot be written into the existing collection.
	err = r.backend.EnsureCollection(ctx, name, r.dimensions)
	if errors.Is(err, vectorindex.ErrDimensionMismatch) {
		if err := r.backend.DeleteCollection(ctx, name); err != nil {
			return res, err
		}
		err = r.backend.EnsureCollection(ctx, name, r.dimensions)
		res.Recreated = true
	}
	if err != nil {
		return res, err
	}

	if len(live) == 0 {
		fmt.Fprintf(r.progress, "No chunks found in %s (0 chunks)\n", name)
		return res, nil
	}

	fmt.Fprintf(r.progress, "Reindexing %d chunks in %s (batch size: %d)\n", len(live), name, r.iterator.batchSize)
	tracker := NewProgressTracker(r.progress, name, len(live), r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.Batches(ctx, live, func(batch []vectorindex.Point) error {
		if err := r.processor.Process(ctx, name, batch); err != nil {
			return err
		}
		res.Chunks += len(batch)
		tracker.Increment(len(batch))
		return nil
	})
	if err != nil {
		return res, err
	}

	tracker.Finish()
	res.Elapsed = tracker.Elapsed()
	fmt.Fprintf(r.progress, "Reindex of %s complete. Processed %d chunks in %v\n",
		name, res.Chunks, res.Elapsed.Round(time.Millisecond))
	return res, nil
}
