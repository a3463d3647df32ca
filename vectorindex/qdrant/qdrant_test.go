package qdrant

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/vectorindex"
	qc "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() vectorindex.Payload {
	return vectorindex.Payload{
		DocumentID: "doc-1",
		ChunkIndex: 3,
		ChunkText:  "chunk body",
		Filename:   "notes.pdf",
		MimeType:   "application/pdf",
		FileSize:   2048,
		TokenCount: 900,
		CreatedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		ExpiresAt:  time.Date(2025, 1, 9, 3, 4, 5, 0, time.UTC),
	}
}

func TestPayloadConversion(t *testing.T) {
	p := samplePayload()

	values := qc.NewValueMap(toPayload(p))
	assert.Equal(t, "doc-1", values[fieldDocumentID].GetStringValue())
	assert.Equal(t, int64(3), values[fieldChunkIndex].GetIntegerValue())
	assert.Equal(t, "2025-01-09T03:04:05Z", values[fieldExpiresAt].GetStringValue())

	assert.Equal(t, p, fromPayload(values))
}

func TestPayloadWithoutExpiry(t *testing.T) {
	p := samplePayload()
	p.ExpiresAt = time.Time{}

	m := toPayload(p)
	_, ok := m[fieldExpiresAt]
	assert.False(t, ok)
	assert.True(t, fromPayload(qc.NewValueMap(m)).ExpiresAt.IsZero())
}

func TestToFilter(t *testing.T) {
	assert.Nil(t, toFilter(vectorindex.Filter{}))

	f := toFilter(vectorindex.Filter{DocumentID: "doc-1"})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 1)
	assert.Empty(t, f.MustNot)

	now := time.Now()
	f = toFilter(vectorindex.Filter{DocumentID: "doc-1", ActiveAt: now})
	require.NotNil(t, f)
	assert.Len(t, f.Must, 1)
	require.Len(t, f.MustNot, 1)
	r := f.MustNot[0].GetField().GetDatetimeRange()
	require.NotNil(t, r)
	assert.Equal(t, now.Unix(), r.GetLt().GetSeconds())
}

func TestToPointStruct(t *testing.T) {
	p := vectorindex.Point{
		ID:      vectorindex.PointID("doc-1", 0),
		Dense:   []float32{0.1, 0.2},
		Sparse:  core.SparseVector{Indices: []uint32{4, 9}, Values: []float32{1, 2}},
		Payload: samplePayload(),
	}
	ps := toPointStruct(&p)
	assert.Equal(t, p.ID, ps.GetId().GetUuid())

	named := ps.GetVectors().GetVectors().GetVectors()
	assert.Contains(t, named, vectorindex.DenseVectorName)
	assert.Contains(t, named, vectorindex.SparseVectorName)

	p.Sparse = core.SparseVector{}
	named = toPointStruct(&p).GetVectors().GetVectors().GetVectors()
	assert.NotContains(t, named, vectorindex.SparseVectorName, "empty signatures are not sent")
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, 2025, parseTime("2025-06-01T00:00:00Z").Year())
}

// TestIndex_Live exercises a real server when QDRANT_HOST is set.
func TestIndex_Live(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		t.Skip("QDRANT_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("QDRANT_PORT"))

	idx, err := New(Config{Host: host, Port: port, APIKey: os.Getenv("QDRANT_API_KEY")})
	require.NoError(t, err)
	defer idx.Close()

	ctx := context.Background()
	name := "doctier_test_" + uuid.NewString()
	require.NoError(t, idx.EnsureCollection(ctx, name, 2))
	require.NoError(t, idx.EnsureCollection(ctx, name, 2))
	defer idx.DeleteCollection(ctx, name)

	payload := samplePayload()
	payload.ExpiresAt = time.Now().Add(time.Hour).UTC()
	require.NoError(t, idx.Upsert(ctx, name, []vectorindex.Point{{
		ID:      vectorindex.PointID("doc-1", 0),
		Dense:   []float32{1, 0},
		Sparse:  vectorindex.Sparse("metformin dosage"),
		Payload: payload,
	}}))

	hits, err := idx.DenseSearch(ctx, name, []float32{1, 0}, vectorindex.Filter{ActiveAt: time.Now()}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-1", hits[0].Payload.DocumentID)

	hits, err = idx.SparseSearch(ctx, name, vectorindex.Sparse("metformin"), vectorindex.Filter{}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	n, err := idx.DeleteExpired(ctx, name, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, idx.DeleteByDocument(ctx, name, "doc-1"))
	count, err := idx.Count(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
