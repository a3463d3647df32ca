package documents_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/doctier/ai/mock"
	"github.com/poiesic/doctier/core"
	"github.com/poiesic/doctier/decision"
	"github.com/poiesic/doctier/documents"
	"github.com/poiesic/doctier/extract"
	"github.com/poiesic/doctier/inline"
	"github.com/poiesic/doctier/storage"
	storebadger "github.com/poiesic/doctier/storage/badger"
	"github.com/poiesic/doctier/vectorindex"
	"github.com/poiesic/doctier/vectorindex/local"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	conv = "conv-1"
	user = "user-1"
)

type fixture struct {
	svc         *documents.Service
	repo        storage.DocumentRepository
	checkpoints storage.CheckpointRepository
	index       *vectorindex.Service
	extractor   *extract.Extractor
	inline      *inline.Store
	now         time.Time
	mu          sync.Mutex
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// failingRepo fails every AddDocument call.
type failingRepo struct {
	storage.DocumentRepository
}

func (failingRepo) AddDocument(context.Context, *core.Document) error {
	return errors.New("disk full")
}

func newFixture(t *testing.T, opts ...documents.Option) *fixture {
	t.Helper()

	docRepo, cpRepo, backend, err := storebadger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	idx, err := local.New(backend)
	require.NoError(t, err)

	extractor, err := extract.New(extract.WithTokenCounter(extract.WordCounter{}))
	require.NoError(t, err)

	f := &fixture{
		repo:        docRepo,
		checkpoints: cpRepo,
		extractor:   extractor,
		inline:      inline.NewStore(),
		now:         time.Now(),
	}
	f.index, err = vectorindex.NewService(idx, mock.NewMockProviderWithEmbedder(mock.NewMockEmbedderWithDimensions(32)),
		vectorindex.WithRetry(1, 0), vectorindex.WithClock(f.clock))
	require.NoError(t, err)
	return f.build(t, f.repo, opts...)
}

func (f *fixture) build(t *testing.T, repo storage.DocumentRepository, opts ...documents.Option) *fixture {
	t.Helper()
	opts = append([]documents.Option{
		documents.WithInlineStore(f.inline),
		documents.WithCheckpoints(f.checkpoints),
		documents.WithClock(f.clock),
	}, opts...)
	svc, err := documents.NewService(repo, f.index, f.extractor, opts...)
	require.NoError(t, err)
	t.Cleanup(svc.Release)
	f.svc = svc
	return f
}

// words returns n distinct whitespace separated words.
func words(prefix string, n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}

func upload(filename, text string) documents.UploadRequest {
	return documents.UploadRequest{
		ConversationID: conv,
		UserID:         user,
		Filename:       filename,
		MimeType:       extract.MimeText,
		Content:        []byte(text),
		Model:          "gpt-4o-mini",
	}
}

func TestUpload_SmallDocumentGoesInline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, upload("small.txt", words("alpha", 385)))
	require.NoError(t, err)

	assert.Equal(t, documents.StatusCompleted, res.Status)
	assert.Equal(t, core.TierInline, res.Tier)
	assert.Equal(t, 500, res.TokenCount)
	assert.Nil(t, res.TTLDays)
	assert.Equal(t, 1, res.Chunks)
	assert.Contains(t, res.Recommendation, "directly in chat context")

	assert.Equal(t, 500, f.inline.SizeTokens(conv))
	text, ok := f.inline.FormattedContext(conv)
	require.True(t, ok)
	assert.Contains(t, text, "small.txt")

	doc, err := f.repo.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, core.TierInline, doc.Tier)
	assert.True(t, doc.ExpiresAt.IsZero())
}

func TestUpload_LargeDocumentGoesLongLived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, upload("large.txt", words("w", 19231)))
	require.NoError(t, err)

	assert.Equal(t, core.TierLongLived, res.Tier)
	assert.Equal(t, 25000, res.TokenCount)
	require.NotNil(t, res.TTLDays)
	assert.Equal(t, 30, *res.TTLDays)
	assert.Contains(t, res.Recommendation, "~17 chunks")
	assert.Greater(t, res.Chunks, 1)

	count, err := f.index.Count(ctx, core.PersistentScope(user))
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)

	doc, err := f.repo.GetDocument(ctx, res.DocumentID)
	require.NoError(t, err)
	assert.WithinDuration(t, f.clock().AddDate(0, 0, 30), doc.ExpiresAt, time.Second)
	assert.False(t, f.inline.Has(conv))
}

func TestUpload_MediumDocumentGoesShortLived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 7693 words ~ 10000 tokens
	res, err := f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.NoError(t, err)
	assert.Equal(t, core.TierShortLived, res.Tier)
	require.NotNil(t, res.TTLDays)
	assert.Equal(t, 7, *res.TTLDays)

	count, err := f.index.Count(ctx, core.TemporaryScope(conv))
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, count)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := upload("a.txt", "hello")
	req.ConversationID = ""
	_, err := f.svc.Upload(ctx, req)
	assert.ErrorIs(t, err, core.ErrMissingConversation)

	req = upload("a.txt", "hello")
	req.UserID = " "
	_, err = f.svc.Upload(ctx, req)
	assert.ErrorIs(t, err, core.ErrMissingUser)

	req = upload("", "hello")
	_, err = f.svc.Upload(ctx, req)
	assert.ErrorIs(t, err, core.ErrMissingFilename)

	req = upload("a.bin", "hello")
	req.MimeType = "application/x-unknown"
	_, err = f.svc.Upload(ctx, req)
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)
}

func TestUpload_DuplicateIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Upload(ctx, upload("a.txt", words("dup", 50)))
	require.NoError(t, err)

	second, err := f.svc.Upload(ctx, upload("copy-of-a.txt", words("dup", 50)))
	require.NoError(t, err)
	assert.Equal(t, documents.StatusSkipped, second.Status)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	docs, err := f.svc.List(ctx, conv, user)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestUpload_ConcurrentInlineBudget(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Profiles().Set(core.ModelProfile{
		Name:            "tiny",
		ContextWindow:   6000,
		SmallThreshold:  3000,
		MediumThreshold: 4000,
		LargeThreshold:  5000,
	}))
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*documents.UploadResult, 2)
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := upload(fmt.Sprintf("doc-%d.txt", i), words(fmt.Sprintf("d%dw", i), 1900))
			req.Model = "tiny"
			results[i], errs[i] = f.svc.Upload(ctx, req)
		}()
	}
	wg.Wait()

	tiers := map[core.Tier]int{}
	for i := range 2 {
		require.NoError(t, errs[i])
		assert.Equal(t, 2470, results[i].TokenCount)
		tiers[results[i].Tier]++
	}
	assert.Equal(t, 1, tiers[core.TierInline])
	assert.Equal(t, 1, tiers[core.TierShortLived])
	assert.Equal(t, 2470, f.inline.SizeTokens(conv))
}

func TestUpload_PersistenceFailureRemovesContent(t *testing.T) {
	f := newFixture(t)
	f.build(t, failingRepo{f.repo})
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistenceFailed)

	count, err := f.index.Count(ctx, core.TemporaryScope(conv))
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.svc.Upload(ctx, upload("small.txt", words("s", 10)))
	assert.ErrorIs(t, err, core.ErrPersistenceFailed)
	assert.False(t, f.inline.Has(conv))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	small, err := f.svc.Upload(ctx, upload("small.txt", words("s", 10)))
	require.NoError(t, err)
	medium, err := f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, documents.DeleteRequest{ConversationID: conv, UserID: "someone-else", DocumentID: small.DocumentID})
	assert.ErrorIs(t, err, core.ErrNotFound)

	res, err := f.svc.Delete(ctx, documents.DeleteRequest{ConversationID: conv, UserID: user, DocumentID: small.DocumentID})
	require.NoError(t, err)
	assert.Equal(t, core.TierInline, res.Tier)
	assert.False(t, f.inline.Has(conv))

	_, err = f.svc.Delete(ctx, documents.DeleteRequest{ConversationID: conv, UserID: user, DocumentID: medium.DocumentID})
	require.NoError(t, err)
	count, err := f.index.Count(ctx, core.TemporaryScope(conv))
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = f.svc.Delete(ctx, documents.DeleteRequest{ConversationID: conv, UserID: user, DocumentID: medium.DocumentID})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDelete_AfterScopeDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.NoError(t, err)
	require.NoError(t, f.index.DeleteScope(ctx, core.TemporaryScope(conv)))

	_, err = f.svc.Delete(ctx, documents.DeleteRequest{ConversationID: conv, UserID: user, DocumentID: res.DocumentID})
	require.NoError(t, err)

	_, err = f.repo.GetDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestDelete_AfterTTLExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	scope := core.TemporaryScope(conv)

	res, err := f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.NoError(t, err)
	require.Equal(t, core.TierShortLived, res.Tier)

	f.advance(8 * 24 * time.Hour)
	removed, err := f.index.CleanupExpired(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, removed)
	count, err := f.index.Count(ctx, scope)
	require.NoError(t, err)
	require.Zero(t, count)

	del, err := f.svc.Delete(ctx, documents.DeleteRequest{ConversationID: conv, UserID: user, DocumentID: res.DocumentID})
	require.NoError(t, err)
	assert.Equal(t, core.TierShortLived, del.Tier)

	_, err = f.repo.GetDocument(ctx, res.DocumentID)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpload_RestartKeepsInlineBudget(t *testing.T) {
	profiles := decision.DefaultProfiles()
	require.NoError(t, profiles.Set(core.ModelProfile{
		Name:            "narrow",
		ContextWindow:   9000,
		SmallThreshold:  4000,
		MediumThreshold: 6000,
		LargeThreshold:  8000,
	}))
	f := newFixture(t, documents.WithProfiles(profiles))
	ctx := context.Background()

	req := upload("first.txt", words("a", 3000))
	req.Model = "narrow"
	first, err := f.svc.Upload(ctx, req)
	require.NoError(t, err)
	require.Equal(t, core.TierInline, first.Tier)
	require.Equal(t, 3900, first.TokenCount)

	// Restart without listing: the next upload must still see the first
	// document in the conversation's context budget.
	f.inline = inline.NewStore()
	f.build(t, f.repo, documents.WithProfiles(profiles))

	req = upload("second.txt", words("b", 3000))
	req.Model = "narrow"
	second, err := f.svc.Upload(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, core.TierShortLived, second.Tier)
	assert.Equal(t, 3900, f.inline.SizeTokens(conv))

	entry, ok := f.inline.Get(conv, first.DocumentID)
	require.True(t, ok)
	assert.True(t, entry.ContentUnavailable)
}

func TestBuildContext_AfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, upload("notes.txt", "Pick up the dry cleaning on Thursday."))
	require.NoError(t, err)

	f.inline = inline.NewStore()
	f.build(t, f.repo)

	text, err := f.svc.BuildContext(ctx, conv, user, "")
	require.NoError(t, err)
	assert.Contains(t, text, inline.Placeholder("notes.txt"))
}

func TestList_RestartReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	text := words("keep", 40)
	first, err := f.svc.Upload(ctx, upload("first.txt", text))
	require.NoError(t, err)
	f.advance(time.Second)
	second, err := f.svc.Upload(ctx, upload("second.txt", words("medium", 7693)))
	require.NoError(t, err)

	// Simulate a restart: the inline store is lost, the records survive.
	f.inline = inline.NewStore()
	f.build(t, f.repo)

	docs, err := f.svc.List(ctx, conv, user)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, second.DocumentID, docs[0].ID, "newest first")
	assert.True(t, docs[0].ContentAvailable)
	assert.Equal(t, first.DocumentID, docs[1].ID)
	assert.False(t, docs[1].ContentAvailable)

	entry, ok := f.inline.Get(conv, first.DocumentID)
	require.True(t, ok)
	assert.True(t, entry.ContentUnavailable)
	assert.Equal(t, inline.Placeholder("first.txt"), entry.Text)
	assert.Equal(t, first.TokenCount, f.inline.SizeTokens(conv))

	again, err := f.svc.Upload(ctx, upload("first.txt", text))
	require.NoError(t, err)
	assert.Equal(t, documents.StatusRestored, again.Status)
	assert.Equal(t, first.DocumentID, again.DocumentID)

	entry, ok = f.inline.Get(conv, first.DocumentID)
	require.True(t, ok)
	assert.False(t, entry.ContentUnavailable)
	assert.Equal(t, first.TokenCount, f.inline.SizeTokens(conv))
}

func TestRetrieveAndBuildContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, upload("inline.txt", "Short note about the quarterly budget."))
	require.NoError(t, err)
	// ~4500 tokens: indexed short-lived in a handful of chunks
	medium := words("m", 3462) + " metformin dosage twice daily"
	res, err := f.svc.Upload(ctx, upload("medium.txt", medium))
	require.NoError(t, err)
	require.Equal(t, core.TierShortLived, res.Tier)

	_, err = f.svc.Retrieve(ctx, documents.RetrieveRequest{ConversationID: conv, UserID: user})
	assert.ErrorIs(t, err, documents.ErrQueryRequired)

	hits, err := f.svc.Retrieve(ctx, documents.RetrieveRequest{ConversationID: conv, UserID: user, Query: "metformin dosage"})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.LessOrEqual(t, len(hits), vectorindex.DefaultSearchLimit)
	assert.Equal(t, "medium.txt", hits[0].Filename)
	assert.Contains(t, hits[0].Content, "metformin")
	assert.Equal(t, core.TemporaryScope(conv).Name, hits[0].Scope)

	text, err := f.svc.BuildContext(ctx, conv, user, "metformin dosage")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "📄 **inline.txt**"))
	assert.Contains(t, text, "🔍 **RELEVANT DOCUMENTS FROM TEMPORARY STORAGE**")
	assert.NotContains(t, text, "PERSISTENT STORAGE")
	assert.Contains(t, text, "📄 **medium.txt** (Relevance: ")

	empty, err := f.svc.BuildContext(ctx, "conv-empty", "user-empty", "anything")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClearConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, upload("small.txt", words("s", 10)))
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.NoError(t, err)
	large, err := f.svc.Upload(ctx, upload("large.txt", words("l", 19231)))
	require.NoError(t, err)

	require.NoError(t, f.svc.ClearConversation(ctx, conv, user))
	assert.False(t, f.inline.Has(conv))

	exists, err := f.index.Backend().CollectionExists(ctx, core.TemporaryScope(conv).Name)
	require.NoError(t, err)
	assert.False(t, exists)

	docs, err := f.svc.List(ctx, conv, user)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, large.DocumentID, docs[0].ID)
}

func TestIngestBatch(t *testing.T) {
	f := newFixture(t, documents.WithBatchWorkers(2))
	ctx := context.Background()

	bad := upload("bad.bin", "garbage")
	bad.MimeType = "application/x-unknown"
	reqs := []documents.UploadRequest{
		upload("a.txt", words("a", 20)),
		upload("b.txt", words("b", 7693)),
		bad,
		upload("a-again.txt", words("a", 20)),
	}

	report := f.svc.IngestBatch(ctx, reqs)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 4)
	for i, item := range report.Items {
		assert.Equal(t, reqs[i].Filename, item.Filename)
	}
	assert.Equal(t, documents.StatusFailed, report.Items[2].Status)
	assert.ErrorIs(t, report.Items[2].Err, core.ErrUnsupportedFormat)
	assert.Equal(t, core.TierShortLived, report.Items[1].Tier)
	assert.Equal(t, 3, report.Successful)
	assert.GreaterOrEqual(t, report.TotalChunks, report.Items[1].Chunks)
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	small, err := f.svc.Upload(ctx, upload("small.txt", words("s", 10)))
	require.NoError(t, err)
	medium, err := f.svc.Upload(ctx, upload("medium.txt", words("m", 7693)))
	require.NoError(t, err)
	large, err := f.svc.Upload(ctx, upload("large.txt", words("l", 19231)))
	require.NoError(t, err)

	report, err := f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Documents)

	cp, err := f.svc.LastCleanup(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Zero(t, cp.Processed)

	f.advance(8 * 24 * time.Hour)
	report, err = f.svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 1, report.Scopes)
	assert.Zero(t, report.Failed)

	_, err = f.repo.GetDocument(ctx, medium.DocumentID)
	assert.ErrorIs(t, err, core.ErrNotFound)
	count, err := f.index.Count(ctx, core.TemporaryScope(conv))
	require.NoError(t, err)
	assert.Zero(t, count)

	for _, id := range []string{small.DocumentID, large.DocumentID} {
		_, err = f.repo.GetDocument(ctx, id)
		assert.NoError(t, err)
	}

	cp, err = f.svc.LastCleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Processed)
	assert.WithinDuration(t, f.clock(), cp.LastRun, time.Second)
}

func TestStartCleanup_Stops(t *testing.T) {
	f := newFixture(t)
	stop := f.svc.StartCleanup(context.Background(), 10*time.Millisecond)
	time.Sleep(35 * time.Millisecond)
	stop()
	stop()

	cp, err := f.svc.LastCleanup(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, cp)
}

func TestStartCleanup_NonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	for _, interval := range []time.Duration{0, -time.Second} {
		stop := f.svc.StartCleanup(context.Background(), interval)
		require.NotNil(t, stop)
		stop()
	}

	cp, err := f.svc.LastCleanup(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp, "no sweep ran")
}

func TestNewService_RequiresDependencies(t *testing.T) {
	f := newFixture(t)

	_, err := documents.NewService(nil, f.index, f.extractor)
	assert.ErrorIs(t, err, documents.ErrDocumentRepositoryRequired)
	_, err = documents.NewService(f.repo, nil, f.extractor)
	assert.ErrorIs(t, err, documents.ErrVectorIndexRequired)
	_, err = documents.NewService(f.repo, f.index, nil)
	assert.ErrorIs(t, err, documents.ErrExtractorRequired)
}

func TestProfilesDefault(t *testing.T) {
	f := newFixture(t, documents.WithProfiles(decision.DefaultProfiles()))
	assert.True(t, f.svc.Profiles().Known("gpt-4o-mini"))
}
