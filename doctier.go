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

// Package doctier wires the document tiering services from a config.Config.
package doctier

import (
	"errors"
	"io"
	"log/slog"

	"github.com/poiesic/doctier/ai"
	"github.com/poiesic/doctier/ai/openai"
	"github.com/poiesic/doctier/chunk"
	"github.com/poiesic/doctier/config"
	"github.com/poiesic/doctier/documents"
	"github.com/poiesic/doctier/extract"
	"github.com/poiesic/doctier/inline"
	"github.com/poiesic/doctier/reembed"
	"github.com/poiesic/doctier/storage"
	"github.com/poiesic/doctier/storage/badger"
	"github.com/poiesic/doctier/vectorindex"
	"github.com/poiesic/doctier/vectorindex/local"
	"github.com/poiesic/doctier/vectorindex/qdrant"
)

type DocTier struct {
	backend        *badger.Backend
	docRepo        storage.DocumentRepository
	checkpointRepo storage.CheckpointRepository
	vectors        vectorindex.Backend
	provider       ai.AIProvider
	ownsProvider   bool
	index          *vectorindex.Service
	documents      *documents.Service
	logger         *slog.Logger
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	provider ai.AIProvider
	inMemory bool
	logger   *slog.Logger
}

// WithProvider uses provider instead of the configured OpenAI-compatible one.
// The caller keeps ownership; Close does not close it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *openOptions) {
		o.provider = provider
	}
}

// WithInMemoryStorage keeps records and the local index in memory.
func WithInMemoryStorage() Option {
	return func(o *openOptions) {
		o.inMemory = true
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// Open builds every service described by cfg. A nil cfg uses config.Default().
func Open(cfg *config.Config, opts ...Option) (_ *DocTier, err error) {
	if cfg == nil {
		cfg = config.Default()
	}
	options := &openOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close()
			}
		}
	}()

	backend, err := badger.OpenBackend(cfg.DataDir, options.inMemory)
	if err != nil {
		return nil, err
	}
	closers = append(closers, backend)

	provider := options.provider
	ownsProvider := provider == nil
	if ownsProvider {
		provider, err = openai.NewProvider(cfg.AIConfig())
		if err != nil {
			return nil, err
		}
		closers = append(closers, provider)
	}

	var vectors vectorindex.Backend
	switch cfg.Vector.Backend {
	case config.BackendQdrant:
		vectors, err = qdrant.New(qdrant.Config{
			Host:   cfg.Vector.Qdrant.Host,
			Port:   cfg.Vector.Qdrant.Port,
			APIKey: cfg.Vector.Qdrant.APIKey,
			UseTLS: cfg.Vector.Qdrant.UseTLS,
		}, qdrant.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		closers = append(closers, vectors)
	default:
		// Shares the badger backend, which is closed above.
		vectors, err = local.New(backend, local.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	}

	index, err := vectorindex.NewService(vectors, provider,
		vectorindex.WithBatchSize(cfg.Vector.BatchSize),
		vectorindex.WithConcurrency(cfg.Vector.Concurrency),
		vectorindex.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	var counter extract.TokenCounter = extract.WordCounter{}
	if cfg.Tokenizer != config.TokenizerWords {
		counter = extract.NewTiktokenCounter(logger)
	}
	extractor, err := extract.New(
		extract.WithTimeout(cfg.ExtractTimeout),
		extract.WithTokenCounter(counter),
		extract.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	chunker, err := chunk.New(counter, chunk.WithOverlap(cfg.ChunkOverlap), chunk.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	profiles, err := cfg.ModelProfiles()
	if err != nil {
		return nil, err
	}

	docRepo := badger.NewDocumentRepository(backend)
	checkpointRepo := badger.NewCheckpointRepository(backend)

	docs, err := documents.NewService(docRepo, index, extractor,
		documents.WithChunker(chunker),
		documents.WithInlineStore(inline.NewStore(inline.WithLogger(logger))),
		documents.WithProfiles(profiles),
		documents.WithCheckpoints(checkpointRepo),
		documents.WithExtractTimeout(cfg.ExtractTimeout),
		documents.WithEmbedTimeout(cfg.EmbedTimeout),
		documents.WithBatchWorkers(cfg.BatchWorkers),
		documents.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	return &DocTier{
		backend:        backend,
		docRepo:        docRepo,
		checkpointRepo: checkpointRepo,
		vectors:        vectors,
		provider:       provider,
		ownsProvider:   ownsProvider,
		index:          index,
		documents:      docs,
		logger:         logger,
	}, nil
}

// Close releases the worker pool, the vector backend, the provider when Open
// created it, and the database, in that order.
func (d *DocTier) Close() error {
	d.documents.Release()

	var errs []error
	if _, shared := d.vectors.(*local.Index); !shared {
		if err := d.vectors.Close(); err != nil {
			d.logger.Error("error closing vector backend", "err", err)
			errs = append(errs, err)
		}
	}
	if d.ownsProvider {
		if err := d.provider.Close(); err != nil {
			d.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if err := d.docRepo.Close(); err != nil {
		d.logger.Error("error closing document repository", "err", err)
		errs = append(errs, err)
	}
	if err := d.backend.Close(); err != nil {
		d.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (d *DocTier) Documents() *documents.Service {
	return d.documents
}

func (d *DocTier) Index() *vectorindex.Service {
	return d.index
}

func (d *DocTier) DocumentRepository() storage.DocumentRepository {
	return d.docRepo
}

func (d *DocTier) CheckpointRepository() storage.CheckpointRepository {
	return d.checkpointRepo
}

// NewReembedder creates a reembedder over the configured vector backend
// using the configured embedding provider.
func (d *DocTier) NewReembedder(cfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(d.vectors, d.provider, cfg, progress)
}
