// Package inline holds the full text of INLINE-tier documents per
// conversation, ready to be placed directly into a model prompt.
//
// The store lives in process memory only. After a restart, Restore recreates
// a placeholder for each durable INLINE record so size accounting and
// listings stay consistent until the content is uploaded again.
package inline

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Metadata describes an inline document.
type Metadata struct {
	Filename   string
	MimeType   string
	FileSize   int64
	TokenCount int
}

// Entry is one inline document.
type Entry struct {
	DocumentID         string
	Text               string
	Metadata           Metadata
	AddedAt            time.Time
	ContentUnavailable bool
}

// Stats summarizes the whole store.
type Stats struct {
	Conversations int
	Documents     int
	Tokens        int
}

// conversation is the per-conversation bucket; its mutex serializes all
// reads and writes for that conversation.
type conversation struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
	tokens  int
}

// Store is a concurrency-safe map of conversation id to inline documents.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

// WithClock overrides the time source used for AddedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		conversations: make(map[string]*conversation),
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "inline-store")
	return s
}

// bucket returns the conversation bucket, creating it when create is true.
func (s *Store) bucket(conversationID string, create bool) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok && create {
		c = &conversation{entries: make(map[string]*Entry)}
		s.conversations[conversationID] = c
	}
	return c
}

// Add stores text for a document. Adding an id that is already present
// replaces its content and keeps its position. Returns false when either id
// is empty.
func (s *Store) Add(conversationID, documentID, text string, meta Metadata) bool {
	return s.AddIf(conversationID, documentID, text, meta, nil)
}

// AddIf runs admit with the conversation's current token total and adds the
// document only if admit returns true. The check and the insert happen under
// the conversation lock, so concurrent callers see each other's additions.
func (s *Store) AddIf(conversationID, documentID, text string, meta Metadata, admit func(size int) bool) bool {
	if conversationID == "" || documentID == "" {
		return false
	}

	c := s.bucket(conversationID, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	if admit != nil && !admit(c.tokens) {
		return false
	}
	c.put(&Entry{
		DocumentID: documentID,
		Text:       text,
		Metadata:   meta,
		AddedAt:    s.now(),
	})

	s.logger.Debug("added inline document", "conversation_id", conversationID, "document_id", documentID, "tokens", meta.TokenCount)
	return true
}

func (c *conversation) put(e *Entry) {
	if old, ok := c.entries[e.DocumentID]; ok {
		c.tokens -= old.Metadata.TokenCount
	} else {
		c.order = append(c.order, e.DocumentID)
	}
	c.entries[e.DocumentID] = e
	c.tokens += e.Metadata.TokenCount
}

// Remove deletes a document. Returns false if it was not present.
func (s *Store) Remove(conversationID, documentID string) bool {
	c := s.bucket(conversationID, false)
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[documentID]
	if !ok {
		return false
	}
	delete(c.entries, documentID)
	c.tokens -= e.Metadata.TokenCount
	for i, id := range c.order {
		if id == documentID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of one entry.
func (s *Store) Get(conversationID, documentID string) (Entry, bool) {
	c := s.bucket(conversationID, false)
	if c == nil {
		return Entry{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[documentID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// FormattedContext renders every inline document of a conversation in
// insertion order, each under a filename header. The second result is false
// when the conversation has no inline documents.
func (s *Store) FormattedContext(conversationID string) (string, bool) {
	c := s.bucket(conversationID, false)
	if c == nil {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		return "", false
	}

	parts := make([]string, 0, len(c.order))
	for _, id := range c.order {
		e := c.entries[id]
		parts = append(parts, fmt.Sprintf("📄 **%s**\n%s\n", e.Metadata.Filename, e.Text))
	}
	return strings.Join(parts, "\n\n"), true
}

// SizeTokens returns the sum of the token counts of a conversation's inline documents.
func (s *Store) SizeTokens(conversationID string) int {
	c := s.bucket(conversationID, false)
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// Has reports whether a conversation holds any inline documents.
func (s *Store) Has(conversationID string) bool {
	c := s.bucket(conversationID, false)
	if c == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order) > 0
}

// Documents returns copies of a conversation's entries in insertion order.
func (s *Store) Documents(conversationID string) []Entry {
	c := s.bucket(conversationID, false)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.entries[id])
	}
	return out
}

// Clear drops every inline document of a conversation. The empty bucket is
// kept so writers already holding it are not lost.
func (s *Store) Clear(conversationID string) {
	c := s.bucket(conversationID, false)
	if c == nil {
		return
	}

	c.mu.Lock()
	n := len(c.order)
	c.order = nil
	c.entries = make(map[string]*Entry)
	c.tokens = 0
	c.mu.Unlock()

	s.logger.Debug("cleared inline context", "conversation_id", conversationID, "documents", n)
}

// Restore inserts a content-unavailable placeholder for a document known
// from durable storage but missing from memory. Returns true when a
// placeholder was added.
func (s *Store) Restore(conversationID, documentID string, meta Metadata) bool {
	if conversationID == "" || documentID == "" {
		return false
	}

	c := s.bucket(conversationID, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[documentID]; ok {
		return false
	}
	c.put(&Entry{
		DocumentID:         documentID,
		Text:               Placeholder(meta.Filename),
		Metadata:           meta,
		AddedAt:            s.now(),
		ContentUnavailable: true,
	})

	s.logger.Info("restored inline placeholder", "conversation_id", conversationID, "document_id", documentID)
	return true
}

// Placeholder is the text that stands in for content lost on restart.
func Placeholder(filename string) string {
	return fmt.Sprintf("[Document: %s - Content lost on restart]", filename)
}

// Stats returns totals across all conversations.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	buckets := make([]*conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		buckets = append(buckets, c)
	}
	s.mu.Unlock()

	var st Stats
	for _, c := range buckets {
		c.mu.Lock()
		if n := len(c.order); n > 0 {
			st.Conversations++
			st.Documents += n
			st.Tokens += c.tokens
		}
		c.mu.Unlock()
	}
	return st
}
