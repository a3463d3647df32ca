package core

import (
	"encoding/hex"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// HashContent returns a hex encoded BLAKE2b-256 digest of extracted text.
// Identical content always produces the same hash, which is what
// per-conversation deduplication relies on.
func HashContent(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Document is the durable record of an uploaded document.
// The content itself lives in the tier named by Tier.
type Document struct {
	ID             string
	ConversationID string
	UserID         string
	Filename       string
	FileSize       int64
	MimeType       string
	TokenCount     int
	ContentHash    string
	Tier           Tier
	TTLDays        *int // nil for inline documents
	ChunkCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      time.Time // zero when the tier never expires
}

// Expired reports whether the document's tier TTL has elapsed at now.
func (d *Document) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && d.ExpiresAt.Before(now)
}

// Scope returns the index scope holding the document's chunks.
// The second return value is false for inline documents.
func (d *Document) Scope() (Scope, bool) {
	return d.Tier.Scope(d.ConversationID, d.UserID)
}

// SparseVector is a lexical term-weight signature.
// Indices are sorted ascending and unique.
type SparseVector struct {
	Indices []uint32
	Values  []float32
}

// Chunk is a single indexed fragment of a document.
type Chunk struct {
	DocumentID string
	Index      int
	Text       string
	Dense      []float32
	Sparse     SparseVector
	ExpiresAt  time.Time
}

// TierDecision is the outcome of classifying a document by size.
type TierDecision struct {
	TokenCount      int
	Tier            Tier
	TTLDays         *int
	ChunkSize       int
	EstimatedChunks int
	Rationale       string

	// Model and AvailableContext record the inputs the decision was made against.
	Model            string
	AvailableContext int
	// RequiresChunking is true when the document exceeds the model's small threshold.
	RequiresChunking bool
	// Fallback marks a decision produced after an internal error.
	Fallback bool
}

// ModelProfile describes the context budget of a target model.
type ModelProfile struct {
	Name            string `yaml:"name"`
	ContextWindow   int    `yaml:"context_window"`
	SmallThreshold  int    `yaml:"small_threshold"`
	MediumThreshold int    `yaml:"medium_threshold"`
	LargeThreshold  int    `yaml:"large_threshold"`
}

// SearchHit is a single ranked chunk returned from an index scope.
type SearchHit struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Filename   string
	MimeType   string
	Scope      string
	Score      float64
}

// Checkpoint records the last run of a background processor.
type Checkpoint struct {
	ProcessorType string
	LastRun       time.Time
	Processed     int64
	UpdatedAt     time.Time
}
