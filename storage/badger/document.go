package badger

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend: backend,
	}
}

// Close is a no-op; the backend is closed by its owner.
func (r *DocumentRepository) Close() error {
	return nil
}

// AddDocument stores a new document record along with its indexes.
func (r *DocumentRepository) AddDocument(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}

	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(doc.ID)
		existing, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return storage.ErrDuplicateKey
		}

		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = time.Now().UTC()
		}
		if doc.UpdatedAt.IsZero() {
			doc.UpdatedAt = doc.CreatedAt
		}

		if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
			return err
		}
		if err := tx.Set(makeConversationKey(doc.ConversationID, doc.ID), nil); err != nil {
			return err
		}
		if doc.ContentHash != "" {
			if err := tx.Set(makeHashKey(doc.ConversationID, doc.ContentHash), []byte(doc.ID)); err != nil {
				return err
			}
		}
		if !doc.ExpiresAt.IsZero() {
			if err := tx.Set(makeExpiryKey(doc.ExpiresAt, doc.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDocument retrieves a single document record by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// DeleteDocument removes a document record and its indexes.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(id)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}

		if err := tx.Delete(makeConversationKey(doc.ConversationID, doc.ID)); err != nil {
			return err
		}
		if doc.ContentHash != "" {
			// Only drop the hash entry if it still points at this document
			hashKey := makeHashKey(doc.ConversationID, doc.ContentHash)
			item, err := tx.Get(hashKey)
			switch {
			case err == nil:
				owner, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if string(owner) == doc.ID {
					if err := tx.Delete(hashKey); err != nil {
						return err
					}
				}
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
		}
		if !doc.ExpiresAt.IsZero() {
			if err := tx.Delete(makeExpiryKey(doc.ExpiresAt, doc.ID)); err != nil {
				return err
			}
		}
		return tx.Delete(key)
	})
}

// ListByConversation returns the conversation's records, oldest first.
func (r *DocumentRepository) ListByConversation(ctx context.Context, conversationID string) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialConversationKey(conversationID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			id := string(bytes.TrimPrefix(iter.Item().Key(), prefix))
			doc, err := readDocument(tx, makeDocumentKey(id))
			if err != nil {
				return err
			}
			if doc != nil {
				docs = append(docs, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(docs, func(a, b *core.Document) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return docs, nil
}

// FindByHash finds the record in a conversation with the given content hash.
func (r *DocumentRepository) FindByHash(ctx context.Context, conversationID, contentHash string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeHashKey(conversationID, contentHash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		result, err = readDocument(tx, makeDocumentKey(string(id)))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListExpired returns records whose expiry is before the given time, soonest first.
func (r *DocumentRepository) ListExpired(ctx context.Context, before time.Time) ([]*core.Document, error) {
	var docs []*core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(documentExpiryPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		end := makePartialExpiryKey(before)
		idOffset := len(end)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			if bytes.Compare(key, end) >= 0 {
				break
			}
			doc, err := readDocument(tx, makeDocumentKey(string(key[idOffset:])))
			if err != nil {
				return err
			}
			if doc != nil {
				docs = append(docs, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// readDocument reads a document by key. Returns nil, nil if it does not exist.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}
