package local

import (
	"encoding/binary"
	"fmt"

	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/storage"
	"github.com/poiesic/doctier/vectorindex"
)

const (
	collectionPrefix = "veccol:"
	pointPrefix      = "vecpt:"

	pointVersion      = 1
	collectionVersion = 1
)

// collectionKey is the key holding a collection's metadata.
func collectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

// collectionPointsPrefix is shared by every point key of a collection.
// Format: vecpt:collection\x00
func collectionPointsPrefix(name string) []byte {
	return []byte(pointPrefix + name + "\x00")
}

// documentPointsPrefix is shared by every point key of one document.
// Format: vecpt:collection\x00documentID\x00
func documentPointsPrefix(name, documentID string) []byte {
	return append(collectionPointsPrefix(name), documentID+"\x00"...)
}

// pointKey orders a document's chunks by index.
// Format: vecpt:collection\x00documentID\x00<uint32 big endian index>
func pointKey(name, documentID string, chunkIndex int) []byte {
	return binary.BigEndian.AppendUint32(documentPointsPrefix(name, documentID), uint32(chunkIndex))
}

type collectionMeta struct {
	Dimensions int
}

func marshalCollection(meta collectionMeta) []byte {
	e := storage.NewEncoder(8)
	e.Int(collectionVersion)
	e.Int(meta.Dimensions)
	return e.Bytes()
}

func unmarshalCollection(data []byte) (collectionMeta, error) {
	d := storage.NewDecoder(data)
	if v := d.Int(); d.Err() == nil && v != collectionVersion {
		return collectionMeta{}, fmt.Errorf("%w: unsupported collection version %d", storage.ErrSerializationFailed, v)
	}
	meta := collectionMeta{Dimensions: d.Int()}
	return meta, d.Err()
}

func marshalPoint(p *vectorindex.Point) []byte {
	e := storage.NewEncoder(64 + len(p.Payload.ChunkText) + 5*len(p.Dense) + 10*len(p.Sparse.Indices))
	e.Int(pointVersion)
	e.String(p.ID)
	e.Float32s(p.Dense)
	e.Uint32s(p.Sparse.Indices)
	e.Float32s(p.Sparse.Values)
	e.String(p.Payload.DocumentID)
	e.Int(p.Payload.ChunkIndex)
	e.String(p.Payload.ChunkText)
	e.String(p.Payload.Filename)
	e.String(p.Payload.MimeType)
	e.Int64(p.Payload.FileSize)
	e.Int(p.Payload.TokenCount)
	e.Time(p.Payload.CreatedAt)
	e.Time(p.Payload.ExpiresAt)
	return e.Bytes()
}

func unmarshalPoint(data []byte) (*vectorindex.Point, error) {
	d := storage.NewDecoder(data)
	if v := d.Int(); d.Err() == nil && v != pointVersion {
		return nil, fmt.Errorf("%w: unsupported point version %d", storage.ErrSerializationFailed, v)
	}
	p := &vectorindex.Point{
		ID:    d.String(),
		Dense: d.Float32s(),
		Sparse: core.SparseVector{
			Indices: d.Uint32s(),
			Values:  d.Float32s(),
		},
	}
	p.Payload = vectorindex.Payload{
		DocumentID: d.String(),
		ChunkIndex: d.Int(),
		ChunkText:  d.String(),
		Filename:   d.String(),
		MimeType:   d.String(),
		FileSize:   d.Int64(),
		TokenCount: d.Int(),
		CreatedAt:  d.Time(),
		ExpiresAt:  d.Time(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	if len(p.Sparse.Indices) != len(p.Sparse.Values) {
		return nil, fmt.Errorf("%w: sparse vector has %d indices and %d values", storage.ErrSerializationFailed, len(p.Sparse.Indices), len(p.Sparse.Values))
	}
	return p, nil
}
