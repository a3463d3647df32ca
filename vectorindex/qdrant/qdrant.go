// Package qdrant implements vectorindex.Backend on a Qdrant server.
//
// Each collection carries a named dense vector with cosine distance and a
// named sparse vector with the IDF modifier, so lexical weighting happens
// server side. Point payloads use the same field names as the local backend.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/vectorindex"
	qc "github.com/qdrant/go-client/qdrant"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Payload field names.
const (
	fieldDocumentID = "document_id"
	fieldChunkIndex = "chunk_index"
	fieldChunkText  = "chunk_text"
	fieldFilename   = "filename"
	fieldMimeType   = "mime_type"
	fieldFileSize   = "file_size"
	fieldTokenCount = "token_count"
	fieldCreatedAt  = "created_at"
	fieldExpiresAt  = "expires_at"
)

const (
	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	scrollPageSize = 256
)

// Config addresses a Qdrant server.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Index is a vectorindex.Backend backed by Qdrant.
type Index struct {
	client *qc.Client
	logger *slog.Logger
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

// New connects to the Qdrant server described by cfg.
func New(cfg Config, opts ...Option) (*Index, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	client, err := qc.NewClient(&qc.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	idx := &Index{client: client, logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(idx); err != nil {
			client.Close()
			return nil, err
		}
	}
	idx.logger = idx.logger.With("component", "qdrant-vectorindex", "host", cfg.Host)
	return idx, nil
}

// Close closes the client connection.
func (i *Index) Close() error {
	return i.client.Close()
}

func (i *Index) CollectionExists(ctx context.Context, name string) (bool, error) {
	return i.client.CollectionExists(ctx, name)
}

func (i *Index) requireCollection(ctx context.Context, name string) error {
	exists, err := i.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	return nil
}

// checkDimensions compares the dense vector size of an existing collection.
func (i *Index) checkDimensions(ctx context.Context, name string, dimensions int) error {
	info, err := i.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return err
	}
	params, ok := info.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[vectorindex.DenseVectorName]
	if !ok {
		return nil
	}
	if size := int(params.GetSize()); size != dimensions {
		return fmt.Errorf("%w: collection %s has %d dimensions, requested %d", vectorindex.ErrDimensionMismatch, name, size, dimensions)
	}
	return nil
}

func (i *Index) EnsureCollection(ctx context.Context, name string, dimensions int) error {
	exists, err := i.client.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return i.checkDimensions(ctx, name, dimensions)
	}

	err = i.client.CreateCollection(ctx, &qc.CreateCollection{
		CollectionName: name,
		VectorsConfig: qc.NewVectorsConfigMap(map[string]*qc.VectorParams{
			vectorindex.DenseVectorName: {
				Size:     uint64(dimensions),
				Distance: qc.Distance_Cosine,
			},
		}),
		SparseVectorsConfig: qc.NewSparseVectorsConfig(map[string]*qc.SparseVectorParams{
			vectorindex.SparseVectorName: {
				Modifier: qc.Modifier_Idf.Enum(),
			},
		}),
	})
	if err != nil {
		// Another writer may have created it first
		if exists, xerr := i.client.CollectionExists(ctx, name); xerr == nil && exists {
			return nil
		}
		return err
	}

	indexes := []struct {
		field string
		kind  qc.FieldType
	}{
		{fieldDocumentID, qc.FieldType_FieldTypeKeyword},
		{fieldExpiresAt, qc.FieldType_FieldTypeDatetime},
	}
	for _, ix := range indexes {
		_, err := i.client.CreateFieldIndex(ctx, &qc.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      ix.field,
			FieldType:      ix.kind.Enum(),
			Wait:           qc.PtrOf(true),
		})
		if err != nil {
			i.logger.Warn("failed to create payload index", "collection", name, "field", ix.field, "err", err)
		}
	}

	i.logger.Info("created collection", "collection", name, "dimensions", dimensions)
	return nil
}

func (i *Index) DeleteCollection(ctx context.Context, name string) error {
	if err := i.requireCollection(ctx, name); err != nil {
		return err
	}
	return i.client.DeleteCollection(ctx, name)
}

func (i *Index) Upsert(ctx context.Context, name string, points []vectorindex.Point) error {
	if len(points) == 0 {
		return i.requireCollection(ctx, name)
	}
	structs := make([]*qc.PointStruct, len(points))
	for j := range points {
		structs[j] = toPointStruct(&points[j])
	}
	_, err := i.client.Upsert(ctx, &qc.UpsertPoints{
		CollectionName: name,
		Wait:           qc.PtrOf(true),
		Points:         structs,
	})
	return err
}

func (i *Index) DeleteByDocument(ctx context.Context, name, documentID string) error {
	if err := i.requireCollection(ctx, name); err != nil {
		return err
	}
	_, err := i.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: name,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelectorFilter(documentFilter(documentID)),
	})
	return err
}

func (i *Index) DeleteExpired(ctx context.Context, name string, before time.Time) (int, error) {
	if err := i.requireCollection(ctx, name); err != nil {
		return 0, err
	}
	filter := expiredFilter(before)

	n, err := i.client.Count(ctx, &qc.CountPoints{
		CollectionName: name,
		Filter:         filter,
		Exact:          qc.PtrOf(true),
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	_, err = i.client.Delete(ctx, &qc.DeletePoints{
		CollectionName: name,
		Wait:           qc.PtrOf(true),
		Points:         qc.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (i *Index) DenseSearch(ctx context.Context, name string, vector []float32, filter vectorindex.Filter, limit int) ([]vectorindex.Candidate, error) {
	return i.query(ctx, name, qc.NewQueryDense(vector), vectorindex.DenseVectorName, filter, limit)
}

func (i *Index) SparseSearch(ctx context.Context, name string, vector core.SparseVector, filter vectorindex.Filter, limit int) ([]vectorindex.Candidate, error) {
	return i.query(ctx, name, qc.NewQuerySparse(vector.Indices, vector.Values), vectorindex.SparseVectorName, filter, limit)
}

func (i *Index) query(ctx context.Context, name string, query *qc.Query, using string, filter vectorindex.Filter, limit int) ([]vectorindex.Candidate, error) {
	if err := i.requireCollection(ctx, name); err != nil {
		return nil, err
	}
	scored, err := i.client.Query(ctx, &qc.QueryPoints{
		CollectionName: name,
		Query:          query,
		Using:          qc.PtrOf(using),
		Filter:         toFilter(filter),
		Limit:          qc.PtrOf(uint64(limit)),
		WithPayload:    qc.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	out := make([]vectorindex.Candidate, 0, len(scored))
	for _, sp := range scored {
		out = append(out, vectorindex.Candidate{
			ID:      sp.GetId().GetUuid(),
			Payload: fromPayload(sp.GetPayload()),
			Score:   float64(sp.GetScore()),
		})
	}
	return out, nil
}

func (i *Index) Scan(ctx context.Context, name string, fn func(vectorindex.Point) error) error {
	if err := i.requireCollection(ctx, name); err != nil {
		return err
	}

	var offset *qc.PointId
	for {
		// One extra point marks where the next page starts
		page, err := i.client.Scroll(ctx, &qc.ScrollPoints{
			CollectionName: name,
			Offset:         offset,
			Limit:          qc.PtrOf(uint32(scrollPageSize + 1)),
			WithPayload:    qc.NewWithPayload(true),
		})
		if err != nil {
			return err
		}

		visible := page
		if len(page) > scrollPageSize {
			visible = page[:scrollPageSize]
		}
		for _, rp := range visible {
			p := vectorindex.Point{
				ID:      rp.GetId().GetUuid(),
				Payload: fromPayload(rp.GetPayload()),
			}
			if err := fn(p); err != nil {
				return err
			}
		}

		if len(page) <= scrollPageSize {
			return nil
		}
		offset = page[scrollPageSize].GetId()
	}
}

func (i *Index) Count(ctx context.Context, name string) (int, error) {
	if err := i.requireCollection(ctx, name); err != nil {
		return 0, err
	}
	n, err := i.client.Count(ctx, &qc.CountPoints{
		CollectionName: name,
		Exact:          qc.PtrOf(true),
	})
	return int(n), err
}

func toPointStruct(p *vectorindex.Point) *qc.PointStruct {
	vectors := map[string]*qc.Vector{
		vectorindex.DenseVectorName: qc.NewVectorDense(p.Dense),
	}
	if len(p.Sparse.Indices) > 0 {
		vectors[vectorindex.SparseVectorName] = qc.NewVectorSparse(p.Sparse.Indices, p.Sparse.Values)
	}
	return &qc.PointStruct{
		Id:      qc.NewID(p.ID),
		Vectors: qc.NewVectorsMap(vectors),
		Payload: qc.NewValueMap(toPayload(p.Payload)),
	}
}

// toPayload flattens a payload into the value map stored with each point.
// Timestamps are RFC 3339 strings so Qdrant datetime filters apply to them.
func toPayload(p vectorindex.Payload) map[string]any {
	m := map[string]any{
		fieldDocumentID: p.DocumentID,
		fieldChunkIndex: int64(p.ChunkIndex),
		fieldChunkText:  p.ChunkText,
		fieldFilename:   p.Filename,
		fieldMimeType:   p.MimeType,
		fieldFileSize:   p.FileSize,
		fieldTokenCount: int64(p.TokenCount),
		fieldCreatedAt:  p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !p.ExpiresAt.IsZero() {
		m[fieldExpiresAt] = p.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func fromPayload(values map[string]*qc.Value) vectorindex.Payload {
	return vectorindex.Payload{
		DocumentID: values[fieldDocumentID].GetStringValue(),
		ChunkIndex: int(values[fieldChunkIndex].GetIntegerValue()),
		ChunkText:  values[fieldChunkText].GetStringValue(),
		Filename:   values[fieldFilename].GetStringValue(),
		MimeType:   values[fieldMimeType].GetStringValue(),
		FileSize:   values[fieldFileSize].GetIntegerValue(),
		TokenCount: int(values[fieldTokenCount].GetIntegerValue()),
		CreatedAt:  parseTime(values[fieldCreatedAt].GetStringValue()),
		ExpiresAt:  parseTime(values[fieldExpiresAt].GetStringValue()),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func documentFilter(documentID string) *qc.Filter {
	return &qc.Filter{
		Must: []*qc.Condition{qc.NewMatch(fieldDocumentID, documentID)},
	}
}

func expiredFilter(before time.Time) *qc.Filter {
	return &qc.Filter{
		Must: []*qc.Condition{
			qc.NewDatetimeRange(fieldExpiresAt, &qc.DatetimeRange{Lt: timestamppb.New(before)}),
		},
	}
}

// toFilter converts a query filter. Points without an expiry never match the
// expiry range, so they stay visible.
func toFilter(f vectorindex.Filter) *qc.Filter {
	var filter qc.Filter
	if f.DocumentID != "" {
		filter.Must = append(filter.Must, qc.NewMatch(fieldDocumentID, f.DocumentID))
	}
	if !f.ActiveAt.IsZero() {
		filter.MustNot = append(filter.MustNot,
			qc.NewDatetimeRange(fieldExpiresAt, &qc.DatetimeRange{Lt: timestamppb.New(f.ActiveAt)}))
	}
	if len(filter.Must) == 0 && len(filter.MustNot) == 0 {
		return nil
	}
	return &filter
}
