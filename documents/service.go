package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/doctier/chunk"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/decision"
	"github.com/poiesic/doctier/extract"
	"github.com/poiesic/doctier/inline"
	"github.com/poiesic/doctier/storage"
	"github.com/poiesic/doctier/vectorindex"
)

const (
	// DefaultExtractTimeout bounds text extraction for one upload.
	DefaultExtractTimeout = 60 * time.Second
	// DefaultEmbedTimeout bounds chunk embedding and indexing for one upload.
	DefaultEmbedTimeout = 5 * time.Minute
	// DefaultBatchWorkers is the number of files ingested at once by IngestBatch.
	DefaultBatchWorkers = 5

	// Result limits used when assembling prompt context.
	temporaryContextLimit  = 3
	persistentContextLimit = 2
)

// Service coordinates extraction, tier decisions and storage for uploaded
// documents, and assembles retrieval context for queries.
type Service struct {
	documents      storage.DocumentRepository
	checkpoints    storage.CheckpointRepository
	index          *vectorindex.Service
	extractor      *extract.Extractor
	chunker        *chunk.Chunker
	inline         *inline.Store
	profiles       *decision.Profiles
	batchPool      *ants.Pool
	extractTimeout time.Duration
	embedTimeout   time.Duration
	batchWorkers   int
	now            func() time.Time
	newID          func() string
	logger         *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithChunker sets the chunker used for indexed tiers.
// Default is a chunker measuring with the extractor's token counter.
func WithChunker(c *chunk.Chunker) Option {
	return func(s *Service) error {
		s.chunker = c
		return nil
	}
}

// WithInlineStore sets the inline context store. Services sharing a store
// share inline context.
func WithInlineStore(store *inline.Store) Option {
	return func(s *Service) error {
		s.inline = store
		return nil
	}
}

// WithProfiles sets the model profile registry.
// Default is decision.DefaultProfiles().
func WithProfiles(p *decision.Profiles) Option {
	return func(s *Service) error {
		s.profiles = p
		return nil
	}
}

// WithCheckpoints records cleanup runs in the given repository.
func WithCheckpoints(repo storage.CheckpointRepository) Option {
	return func(s *Service) error {
		s.checkpoints = repo
		return nil
	}
}

// WithExtractTimeout bounds extraction of a single upload.
func WithExtractTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("documents: extract timeout must be positive, got %s", d)
		}
		s.extractTimeout = d
		return nil
	}
}

// WithEmbedTimeout bounds embedding and indexing of a single upload.
func WithEmbedTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d <= 0 {
			return fmt.Errorf("documents: embed timeout must be positive, got %s", d)
		}
		s.embedTimeout = d
		return nil
	}
}

// WithBatchWorkers sets how many files IngestBatch processes at once.
func WithBatchWorkers(n int) Option {
	return func(s *Service) error {
		if n < 1 {
			n = 1
		}
		s.batchWorkers = n
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) error {
		if now == nil {
			return errors.New("documents: clock cannot be nil")
		}
		s.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewService creates a document service. Call Release when done.
func NewService(
	documents storage.DocumentRepository,
	index *vectorindex.Service,
	extractor *extract.Extractor,
	opts ...Option,
) (*Service, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	s := &Service{
		documents:      documents,
		index:          index,
		extractor:      extractor,
		extractTimeout: DefaultExtractTimeout,
		embedTimeout:   DefaultEmbedTimeout,
		batchWorkers:   DefaultBatchWorkers,
		now:            time.Now,
		newID:          uuid.NewString,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "documents")

	if s.chunker == nil {
		c, err := chunk.New(extractor.Counter(), chunk.WithLogger(s.logger))
		if err != nil {
			return nil, err
		}
		s.chunker = c
	}
	if s.inline == nil {
		s.inline = inline.NewStore(inline.WithLogger(s.logger))
	}
	if s.profiles == nil {
		s.profiles = decision.DefaultProfiles()
	}

	pool, err := ants.NewPool(s.batchWorkers)
	if err != nil {
		return nil, err
	}
	s.batchPool = pool

	return s, nil
}

// Release releases the batch worker pool. The service should not be used
// for batches afterwards.
func (s *Service) Release() {
	if s.batchPool != nil {
		s.batchPool.Release()
	}
}

// Inline returns the inline context store.
func (s *Service) Inline() *inline.Store {
	return s.inline
}

// Profiles returns the model profile registry.
func (s *Service) Profiles() *decision.Profiles {
	return s.profiles
}

func (r UploadRequest) validate() error {
	switch {
	case strings.TrimSpace(r.ConversationID) == "":
		return core.ErrMissingConversation
	case strings.TrimSpace(r.UserID) == "":
		return core.ErrMissingUser
	case strings.TrimSpace(r.Filename) == "":
		return core.ErrMissingFilename
	}
	return nil
}

// Upload extracts, classifies and stores one document, then records it.
//
// Identical content already uploaded to the conversation is not stored
// twice; the existing document id is returned with StatusSkipped. If the
// durable record cannot be written, whatever was stored in the tier is
// removed again and the error wraps core.ErrPersistenceFailed.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	logger := s.logger.With("conversation_id", req.ConversationID, "filename", req.Filename)
	logger.Info("upload started", "mime_type", req.MimeType, "bytes", len(req.Content))

	ectx, cancel := context.WithTimeout(ctx, s.extractTimeout)
	processed, err := s.extractor.Process(ectx, req.Content, req.Filename, req.MimeType)
	cancel()
	if err != nil {
		logger.Warn("extraction failed", "err", err)
		return nil, fmt.Errorf("%s: %w", req.Filename, err)
	}

	if err := s.ensureInlineLoaded(ctx, req.ConversationID); err != nil {
		logger.Error("failed to load inline records", "err", err)
		return nil, fmt.Errorf("%s: %w", req.Filename, err)
	}

	if result, ok := s.dedup(ctx, req, processed, logger); ok {
		return result, nil
	}

	docID := s.newID()
	meta := inline.Metadata{
		Filename:   req.Filename,
		MimeType:   req.MimeType,
		FileSize:   int64(len(req.Content)),
		TokenCount: processed.TokenCount,
	}

	profile := s.profiles.Lookup(req.Model)
	d := decision.Decide(processed.TokenCount, profile, s.inline.SizeTokens(req.ConversationID))

	// Decide and add under the conversation lock so concurrent uploads
	// cannot both claim the same remaining context.
	for d.Tier == core.TierInline {
		var redecided core.TierDecision
		added := s.inline.AddIf(req.ConversationID, docID, processed.Text, meta, func(size int) bool {
			redecided = decision.Decide(processed.TokenCount, profile, size)
			return redecided.Tier == core.TierInline
		})
		if added {
			break
		}
		d = redecided
	}
	logger.Info("storage decision", "tier", d.Tier.String(), "tokens", d.TokenCount, "rationale", d.Rationale)

	chunks := 1
	if d.Tier.Indexed() {
		chunks, err = s.indexChunks(ctx, req, docID, processed, d)
		if err != nil {
			logger.Error("indexing failed", "document_id", docID, "err", err)
			return nil, fmt.Errorf("%s: %w", req.Filename, err)
		}
	}

	now := s.now().UTC()
	doc := &core.Document{
		ID:             docID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Filename:       req.Filename,
		FileSize:       int64(len(req.Content)),
		MimeType:       req.MimeType,
		TokenCount:     processed.TokenCount,
		ContentHash:    processed.ContentHash,
		Tier:           d.Tier,
		TTLDays:        d.TTLDays,
		ChunkCount:     chunks,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if d.TTLDays != nil {
		doc.ExpiresAt = now.AddDate(0, 0, *d.TTLDays)
	}

	if err := s.documents.AddDocument(ctx, doc); err != nil {
		logger.Error("failed to save document record, removing stored content", "document_id", docID, "err", err)
		s.removeFromTier(context.WithoutCancel(ctx), doc)
		return nil, fmt.Errorf("%w: %s: %w", core.ErrPersistenceFailed, req.Filename, err)
	}

	logger.Info("upload completed", "document_id", docID, "tier", d.Tier.String(), "chunks", chunks)
	return &UploadResult{
		DocumentID:     docID,
		Filename:       req.Filename,
		FileSize:       humanize.IBytes(uint64(len(req.Content))),
		SizeBytes:      int64(len(req.Content)),
		TokenCount:     processed.TokenCount,
		Tier:           d.Tier,
		TTLDays:        d.TTLDays,
		Status:         StatusCompleted,
		Recommendation: decision.Recommend(d),
		Rationale:      d.Rationale,
		Chunks:         chunks,
	}, nil
}

// indexChunks splits the text and writes it to the tier's scope.
func (s *Service) indexChunks(ctx context.Context, req UploadRequest, docID string, processed *extract.Processed, d core.TierDecision) (int, error) {
	scope, _ := d.Tier.Scope(req.ConversationID, req.UserID)
	pieces := s.chunker.Split(processed.Text, d.ChunkSize)

	ictx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	return s.index.UpsertChunks(ictx, scope, docID, pieces, vectorindex.ChunkMetadata{
		Filename:   req.Filename,
		MimeType:   req.MimeType,
		FileSize:   int64(len(req.Content)),
		TokenCount: processed.TokenCount,
	}, d.TTLDays)
}

// dedup returns a result for content already present in the conversation.
func (s *Service) dedup(ctx context.Context, req UploadRequest, processed *extract.Processed, logger *slog.Logger) (*UploadResult, bool) {
	existing, err := s.documents.FindByHash(ctx, req.ConversationID, processed.ContentHash)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			logger.Warn("duplicate lookup failed, storing anyway", "err", err)
		}
		return nil, false
	}
	if existing.UserID != req.UserID || existing.Expired(s.now()) {
		return nil, false
	}

	status := StatusSkipped
	if existing.Tier == core.TierInline {
		entry, ok := s.inline.Get(req.ConversationID, existing.ID)
		if !ok || entry.ContentUnavailable {
			s.inline.Add(req.ConversationID, existing.ID, processed.Text, inline.Metadata{
				Filename:   existing.Filename,
				MimeType:   existing.MimeType,
				FileSize:   existing.FileSize,
				TokenCount: existing.TokenCount,
			})
			status = StatusRestored
		}
	}
	logger.Info("duplicate content", "document_id", existing.ID, "status", status)

	return &UploadResult{
		DocumentID:     existing.ID,
		Filename:       req.Filename,
		FileSize:       humanize.IBytes(uint64(len(req.Content))),
		SizeBytes:      int64(len(req.Content)),
		TokenCount:     existing.TokenCount,
		Tier:           existing.Tier,
		TTLDays:        existing.TTLDays,
		Status:         status,
		Recommendation: "Identical content already uploaded as " + existing.Filename,
		Chunks:         existing.ChunkCount,
	}, true
}

// removeFromTier deletes a document's content from the tier it was stored in.
func (s *Service) removeFromTier(ctx context.Context, doc *core.Document) error {
	if doc.Tier == core.TierInline {
		s.inline.Remove(doc.ConversationID, doc.ID)
		return nil
	}
	scope, ok := doc.Scope()
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrInvalidTier, doc.Tier)
	}
	if err := s.index.DeleteDocument(ctx, scope, doc.ID); err != nil {
		s.logger.Warn("failed to remove indexed chunks", "document_id", doc.ID, "scope", scope.Name, "err", err)
		return err
	}
	return nil
}

// Delete removes a document from its tier and then deletes its record.
// A missing document, or one owned by a different conversation or user,
// fails with core.ErrNotFound. Tier failures wrap core.ErrStorageDeletion
// and leave the record in place so the delete can be retried.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) (*DeleteResult, error) {
	doc, err := s.documents.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrNotFound, req.DocumentID)
		}
		return nil, err
	}
	if doc.ConversationID != req.ConversationID || doc.UserID != req.UserID {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, req.DocumentID)
	}

	if err := s.removeFromTier(ctx, doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrStorageDeletion, req.DocumentID, err)
	}

	if err := s.documents.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrPersistenceFailed, req.DocumentID, err)
	}

	s.logger.Info("document deleted", "document_id", doc.ID, "tier", doc.Tier.String())
	return &DeleteResult{
		DocumentID: doc.ID,
		Tier:       doc.Tier,
		Message:    "Document removed successfully",
	}, nil
}

// List returns the conversation's documents, newest first. Inline documents
// whose content is no longer in memory get a placeholder so context sizing
// keeps counting them; their summaries report ContentAvailable false.
func (s *Service) List(ctx context.Context, conversationID, userID string) ([]DocumentSummary, error) {
	if err := s.ensureInlineLoaded(ctx, conversationID); err != nil {
		return nil, err
	}
	docs, err := s.documents.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]DocumentSummary, 0, len(docs))
	for _, doc := range slices.Backward(docs) {
		if doc.UserID != userID || doc.Expired(now) {
			continue
		}

		available := true
		if doc.Tier == core.TierInline {
			entry, ok := s.inline.Get(doc.ConversationID, doc.ID)
			available = ok && !entry.ContentUnavailable
		}

		out = append(out, DocumentSummary{
			ID:               doc.ID,
			Filename:         doc.Filename,
			MimeType:         doc.MimeType,
			FileSize:         doc.FileSize,
			FormattedSize:    humanize.IBytes(uint64(doc.FileSize)),
			TokenCount:       doc.TokenCount,
			Tier:             doc.Tier,
			TTLDays:          doc.TTLDays,
			ChunkCount:       doc.ChunkCount,
			CreatedAt:        doc.CreatedAt,
			ExpiresAt:        doc.ExpiresAt,
			ContentAvailable: available,
		})
	}
	return out, nil
}

// ensureInlineLoaded restores a placeholder for every INLINE record of the
// conversation missing from memory, so documents whose content was lost on
// restart still count against the conversation's context budget.
func (s *Service) ensureInlineLoaded(ctx context.Context, conversationID string) error {
	docs, err := s.documents.ListByConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.Tier != core.TierInline {
			continue
		}
		s.inline.Restore(doc.ConversationID, doc.ID, inline.Metadata{
			Filename:   doc.Filename,
			MimeType:   doc.MimeType,
			FileSize:   doc.FileSize,
			TokenCount: doc.TokenCount,
		})
	}
	return nil
}

// Retrieve runs a hybrid search over the conversation's temporary scope and
// the user's persistent scope, merged by score. A failing scope contributes
// no results.
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) ([]RetrievedChunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrQueryRequired
	}
	scopes := []core.Scope{
		core.TemporaryScope(req.ConversationID),
		core.PersistentScope(req.UserID),
	}
	hits, err := s.index.SearchScopes(ctx, scopes, req.Query, vectorindex.SearchOptions{
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		return nil, err
	}

	out := make([]RetrievedChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, RetrievedChunk{
			Content:    h.Text,
			Score:      h.Score,
			Filename:   h.Filename,
			FileType:   h.MimeType,
			DocumentID: h.DocumentID,
			Scope:      h.Scope,
		})
	}
	return out, nil
}

// BuildContext assembles the document context for a prompt: inline
// documents first, then the best chunks from the temporary and persistent
// scopes, each under a source header. Search failures leave their section
// out. Returns an empty string when there is nothing to include.
func (s *Service) BuildContext(ctx context.Context, conversationID, userID, query string) (string, error) {
	var parts []string

	if err := s.ensureInlineLoaded(ctx, conversationID); err != nil {
		s.logger.Warn("failed to load inline records", "conversation_id", conversationID, "err", err)
	}
	if text, ok := s.inline.FormattedContext(conversationID); ok {
		parts = append(parts, text)
	}

	sections := []struct {
		scope core.Scope
		limit int
		label string
	}{
		{core.TemporaryScope(conversationID), temporaryContextLimit, "Temporary Storage"},
		{core.PersistentScope(userID), persistentContextLimit, "Persistent Storage"},
	}
	for _, sec := range sections {
		if strings.TrimSpace(query) == "" {
			break
		}
		hits, err := s.index.Search(ctx, sec.scope, query, vectorindex.SearchOptions{Limit: sec.limit})
		if err != nil {
			s.logger.Warn("context search failed", "scope", sec.scope.Name, "err", err)
			continue
		}
		if len(hits) > 0 {
			parts = append(parts, formatHits(hits, sec.label))
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, "\n\n"), nil
}

func formatHits(hits []core.SearchHit, label string) string {
	parts := make([]string, 0, len(hits)+1)
	parts = append(parts, fmt.Sprintf("🔍 **RELEVANT DOCUMENTS FROM %s**\n", strings.ToUpper(label)))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("📄 **%s** (Relevance: %.2f) %s ---", h.Filename, h.Score, h.Text))
	}
	return strings.Join(parts, "\n\n")
}

// ClearConversation tears down a conversation's documents: its inline
// context, its temporary scope, and the records of both. Long-lived
// documents belong to the user and are kept.
func (s *Service) ClearConversation(ctx context.Context, conversationID, userID string) error {
	s.inline.Clear(conversationID)

	if err := s.index.DeleteScope(ctx, core.TemporaryScope(conversationID)); err != nil {
		return fmt.Errorf("%w: %w", core.ErrStorageDeletion, err)
	}

	docs, err := s.documents.ListByConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	var errs []error
	for _, doc := range docs {
		if doc.UserID != userID || doc.Tier == core.TierLongLived {
			continue
		}
		if err := s.documents.DeleteDocument(ctx, doc.ID); err != nil && !errors.Is(err, core.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", core.ErrPersistenceFailed, errors.Join(errs...))
	}

	s.logger.Info("conversation cleared", "conversation_id", conversationID)
	return nil
}
