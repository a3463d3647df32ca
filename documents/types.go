package documents

import (
	"time"

	"github.com/poiesic/doctier/core"
)

// Upload statuses.
const (
	// StatusCompleted means the document was stored in its tier and recorded.
	StatusCompleted = "completed"
	// StatusSkipped means identical content already exists in the conversation.
	StatusSkipped = "skipped"
	// StatusRestored means the upload refilled inline content lost on restart.
	StatusRestored = "restored"
	// StatusFailed marks a batch item whose upload returned an error.
	StatusFailed = "failed"
)

// UploadRequest is one document to ingest.
type UploadRequest struct {
	ConversationID string
	UserID         string
	Filename       string
	MimeType       string
	Content        []byte
	// Model selects the context profile. Unknown names use the default profile.
	Model string
}

// UploadResult describes a stored document.
type UploadResult struct {
	DocumentID     string
	Filename       string
	FileSize       string // human readable
	SizeBytes      int64
	TokenCount     int
	Tier           core.Tier
	TTLDays        *int
	Status         string
	Recommendation string
	Rationale      string
	Chunks         int
}

// DeleteRequest identifies a document to delete. The conversation and user
// must match the stored record.
type DeleteRequest struct {
	ConversationID string
	DocumentID     string
	UserID         string
}

// DeleteResult reports a successful deletion.
type DeleteResult struct {
	DocumentID string
	Tier       core.Tier
	Message    string
}

// DocumentSummary is one entry of a conversation's document list.
type DocumentSummary struct {
	ID            string
	Filename      string
	MimeType      string
	FileSize      int64
	FormattedSize string
	TokenCount    int
	Tier          core.Tier
	TTLDays       *int
	ChunkCount    int
	CreatedAt     time.Time
	ExpiresAt     time.Time
	// ContentAvailable is false for inline documents whose text was lost on
	// restart and must be uploaded again.
	ContentAvailable bool
}

// RetrieveRequest is a query over a conversation's indexed documents.
type RetrieveRequest struct {
	ConversationID string
	UserID         string
	Query          string
	Limit          int
	ScoreThreshold float64
}

// RetrievedChunk is one ranked result of Retrieve.
type RetrievedChunk struct {
	Content    string
	Score      float64
	Filename   string
	FileType   string
	DocumentID string
	Scope      string
}

// BatchItem is the outcome of one file in a batch.
type BatchItem struct {
	Filename   string
	DocumentID string
	Status     string
	Tier       core.Tier
	Chunks     int
	Err        error
}

// BatchReport aggregates a batch ingestion.
type BatchReport struct {
	Total       int
	Successful  int
	Failed      int
	Skipped     int
	TotalChunks int
	Items       []BatchItem
	Duration    time.Duration
}

// CleanupReport summarizes one expiry sweep.
type CleanupReport struct {
	Documents int // expired records removed
	Chunks    int // stray expired chunks swept from scopes
	Failed    int
	Scopes    int
}
