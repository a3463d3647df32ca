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


package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/doctier/core"
)

const (
	documentVersion   = 1
	checkpointVersion = 1
)

// codec is the subset of a mus-go serializer used here.
type codec[T any] interface {
	Size(v T) int
	Marshal(v T, bs []byte) int
	Unmarshal(bs []byte) (T, int, error)
}

// Encoder appends MUS encoded values to a growing buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with the given initial capacity.
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

func put[T any](e *Encoder, c codec[T], v T) {
	n := c.Size(v)
	off := len(e.buf)
	e.buf = append(e.buf, make([]byte, n)...)
	c.Marshal(v, e.buf[off:])
}

func (e *Encoder) String(v string) { put(e, codec[string](ord.String), v) }
func (e *Encoder) Int64(v int64)   { put(e, codec[int64](varint.Int64), v) }
func (e *Encoder) Int(v int)       { e.Int64(int64(v)) }
func (e *Encoder) Bool(v bool)     { put(e, codec[bool](ord.Bool), v) }

// Time encodes t as Unix microseconds, with the zero time encoded as 0.
func (e *Encoder) Time(t time.Time) {
	if t.IsZero() {
		e.Int64(0)
		return
	}
	e.Int64(t.UnixMicro())
}

func (e *Encoder) Float32s(v []float32) {
	e.Int(len(v))
	for _, f := range v {
		put(e, codec[uint32](varint.Uint32), math.Float32bits(f))
	}
}

func (e *Encoder) Uint32s(v []uint32) {
	e.Int(len(v))
	for _, u := range v {
		put(e, codec[uint32](varint.Uint32), u)
	}
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Decoder reads MUS encoded values in order. The first error sticks;
// subsequent reads return zero values.
type Decoder struct {
	bs  []byte
	err error
}

// NewDecoder returns a Decoder over data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{bs: data}
}

func get[T any](d *Decoder, c codec[T]) (v T) {
	if d.err != nil {
		return v
	}
	v, n, err := c.Unmarshal(d.bs)
	if err != nil {
		d.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		return v
	}
	d.bs = d.bs[n:]
	return v
}

func (d *Decoder) String() string { return get(d, codec[string](ord.String)) }
func (d *Decoder) Int64() int64   { return get(d, codec[int64](varint.Int64)) }
func (d *Decoder) Int() int       { return int(d.Int64()) }
func (d *Decoder) Bool() bool     { return get(d, codec[bool](ord.Bool)) }

func (d *Decoder) Time() time.Time {
	us := d.Int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// length reads a slice length and checks it against the remaining input.
func (d *Decoder) length() int {
	n := d.Int()
	if d.err == nil && (n < 0 || n > len(d.bs)) {
		d.err = fmt.Errorf("%w: slice length %d exceeds %d remaining bytes", ErrTruncatedData, n, len(d.bs))
	}
	if d.err != nil {
		return 0
	}
	return n
}

func (d *Decoder) Float32s() []float32 {
	n := d.length()
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(get(d, codec[uint32](varint.Uint32)))
	}
	return out
}

func (d *Decoder) Uint32s() []uint32 {
	n := d.length()
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = get(d, codec[uint32](varint.Uint32))
	}
	return out
}

// Err returns the first decoding error, if any.
func (d *Decoder) Err() error {
	return d.err
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	e := NewEncoder(128 + len(doc.Filename))
	e.Int(documentVersion)
	e.String(doc.ID)
	e.String(doc.ConversationID)
	e.String(doc.UserID)
	e.String(doc.Filename)
	e.Int64(doc.FileSize)
	e.String(doc.MimeType)
	e.Int(doc.TokenCount)
	e.String(doc.ContentHash)
	e.Int(int(doc.Tier))
	ttl := -1
	if doc.TTLDays != nil {
		ttl = *doc.TTLDays
	}
	e.Int(ttl)
	e.Int(doc.ChunkCount)
	e.Time(doc.CreatedAt)
	e.Time(doc.UpdatedAt)
	e.Time(doc.ExpiresAt)
	return e.Bytes()
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	d := NewDecoder(data)
	if v := d.Int(); d.Err() == nil && v != documentVersion {
		return nil, fmt.Errorf("%w: unknown document version %d", ErrSerializationFailed, v)
	}
	doc := &core.Document{
		ID:             d.String(),
		ConversationID: d.String(),
		UserID:         d.String(),
		Filename:       d.String(),
		FileSize:       d.Int64(),
		MimeType:       d.String(),
		TokenCount:     d.Int(),
		ContentHash:    d.String(),
		Tier:           core.Tier(d.Int()),
	}
	if ttl := d.Int(); ttl >= 0 {
		doc.TTLDays = &ttl
	}
	doc.ChunkCount = d.Int()
	doc.CreatedAt = d.Time()
	doc.UpdatedAt = d.Time()
	doc.ExpiresAt = d.Time()
	if err := d.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	e := NewEncoder(64)
	e.Int(checkpointVersion)
	e.String(checkpoint.ProcessorType)
	e.Time(checkpoint.LastRun)
	e.Int64(checkpoint.Processed)
	e.Time(checkpoint.UpdatedAt)
	return e.Bytes()
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	d := NewDecoder(data)
	if v := d.Int(); d.Err() == nil && v != checkpointVersion {
		return nil, fmt.Errorf("%w: unknown checkpoint version %d", ErrSerializationFailed, v)
	}
	checkpoint := &core.Checkpoint{
		ProcessorType: d.String(),
		LastRun:       d.Time(),
		Processed:     d.Int64(),
		UpdatedAt:     d.Time(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return checkpoint, nil
}
