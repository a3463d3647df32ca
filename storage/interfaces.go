package storage

import (
	"context"
	"time"

	"github.com/poiesic/doctier/core"
)

// DocumentRepository provides operations for managing document records.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// AddDocument stores a new document record.
	// Sets CreatedAt and UpdatedAt if not already set.
	// Returns ErrDuplicateKey if a record with the same ID exists.
	AddDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a single document record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// DeleteDocument removes a document record and its indexes.
	// Returns ErrNotFound if the record doesn't exist.
	DeleteDocument(ctx context.Context, id string) error

	// ListByConversation returns all records owned by a conversation,
	// ordered by creation time (oldest first).
	ListByConversation(ctx context.Context, conversationID string) ([]*core.Document, error)

	// FindByHash finds the record in a conversation with the given content hash.
	// Returns ErrNotFound if no record matches.
	FindByHash(ctx context.Context, conversationID, contentHash string) (*core.Document, error)

	// ListExpired returns records whose ExpiresAt is set and before the given time.
	ListExpired(ctx context.Context, before time.Time) ([]*core.Document, error)

	// Close releases resources held by the repository.
	Close() error
}

// CheckpointRepository persists processor checkpoints.
type CheckpointRepository interface {
	// SaveCheckpoint stores the checkpoint, replacing any previous one for the processor.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns the checkpoint for a processor type.
	// Returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, processorType string) (*core.Checkpoint, error)
}
