package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"manual-hand/config"
	"manual-hand/models"
	"manual-hand/providers"
)

type fakeDocStore struct {
	mu          sync.Mutex
	docs        map[string]*models.Document
	transitions []models.ProcessingStatus

	// deleteAt simuliert ein DELETE während der Pipeline: sobald dieser
	// Status geschrieben wurde, verschwindet das Dokument.
	deleteAt models.ProcessingStatus
}

func newFakeDocStore(doc *models.Document) *fakeDocStore {
	return &fakeDocStore{docs: map[string]*models.Document{doc.ID: doc}}
}

func (f *fakeDocStore) GetDocument(_ context.Context, id string) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, models.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocStore) UpdateStatus(_ context.Context, id string, next models.ProcessingStatus, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return models.ErrDocumentNotFound
	}
	if !doc.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, doc.Status, next)
	}
	doc.Status = next
	f.transitions = append(f.transitions, next)
	if v, ok := updates["error_message"].(string); ok {
		doc.ErrorMessage = v
	}
	if v, ok := updates["declared_page_count"].(int); ok {
		doc.DeclaredPageCount = v
	}
	if v, ok := updates["truncated"].(bool); ok {
		doc.Truncated = v
	}
	if v, ok := updates["ready_at"].(time.Time); ok {
		doc.ReadyAt = &v
	}
	if f.deleteAt != "" && next == f.deleteAt {
		delete(f.docs, id)
	}
	return nil
}

type fakeFiles struct{ data []byte }

func (f *fakeFiles) Read(context.Context, string) ([]byte, error) { return f.data, nil }

type fakeParser struct {
	mu       sync.Mutex
	attempts int
	results  []func() (string, error)
}

func (f *fakeParser) Name() string { return "fake" }

func (f *fakeParser) Parse(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.attempts
	f.attempts++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	return f.results[idx]()
}

type fakeSummarizer struct {
	err   error
	calls int
}

func (f *fakeSummarizer) Name() string { return "fake" }

func (f *fakeSummarizer) Summarize(_ context.Context, content string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "summary of " + content, nil
}

type fakeIndexer struct {
	mu       sync.Mutex
	upserts  [][]models.PageRecord
	deletes  []string
	failWith error
	partial  int
}

func (f *fakeIndexer) BulkUpsert(_ context.Context, pages []models.PageRecord) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.partial, f.failWith
	}
	f.upserts = append(f.upserts, pages)
	return len(pages), nil
}

func (f *fakeIndexer) DeleteDocument(_ context.Context, documentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, documentID)
	return 0, nil
}

func parserOK() *fakeParser {
	markdown := marker(1, 2) + "\nCheck valve AB-1234 monthly.\n" +
		marker(2, 2) + "\nLubricate the spindle bearing.\n"
	return &fakeParser{results: []func() (string, error){
		func() (string, error) { return markdown, nil },
	}}
}

func testDocument() *models.Document {
	return &models.Document{
		ID:       "11111111-1111-1111-1111-111111111111",
		Filename: "manual.pdf",
		Category: models.CategoryMaintenance,
		Status:   models.StatusUploaded,
		FileKey:  "manuals/test.pdf",
		FileSize: 3,
	}
}

func testPipeline(t *testing.T, store *fakeDocStore, parser *fakeParser, summarizer providers.Summarizer, idx *fakeIndexer) *Pipeline {
	t.Helper()
	cfg := &config.Config{MaxPages: 50, MaxRetries: 3, GenerateSummaries: true}
	p := NewPipeline(cfg, store, &fakeFiles{data: []byte("pdf")}, idx, parser, summarizer, zap.NewNop())
	p.retryBase = time.Millisecond
	p.Guard.countPages = func(string) (int, error) { return 2, nil }
	p.Guard.trimPages = func(in, out string, maxPages int) error { t.Fatal("trim should not be called"); return nil }
	return p
}

func TestPipelineHappyPath(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	idx := &fakeIndexer{}
	summ := &fakeSummarizer{}
	p := testPipeline(t, store, parserOK(), summ, idx)

	require.NoError(t, p.Run(context.Background(), doc.ID))

	assert.Equal(t, []models.ProcessingStatus{
		models.StatusParsing, models.StatusSummarizing, models.StatusIndexing, models.StatusReady,
	}, store.transitions)

	final, err := store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, final.Status)
	assert.NotNil(t, final.ReadyAt)
	assert.Equal(t, 2, final.DeclaredPageCount)
	assert.False(t, final.Truncated)

	require.Len(t, idx.upserts, 1)
	pages := idx.upserts[0]
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Page)
	assert.Equal(t, 2, pages[1].Page)
	assert.Contains(t, pages[0].Summary, "summary of")
	assert.Contains(t, pages[0].PartNumbers, "AB-1234")
	assert.Equal(t, string(models.StatusReady), pages[0].ProcessingStatus)
	assert.Equal(t, 2, summ.calls)
}

func TestPipelineRetriesTransientParseErrors(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	markdown := marker(1, 1) + "\nContent after retries.\n"
	parser := &fakeParser{results: []func() (string, error){
		func() (string, error) { return "", providers.Transient("parse", errors.New("429")) },
		func() (string, error) { return "", providers.Transient("parse", errors.New("503")) },
		func() (string, error) { return markdown, nil },
	}}
	p := testPipeline(t, store, parser, &fakeSummarizer{}, &fakeIndexer{})

	require.NoError(t, p.Run(context.Background(), doc.ID))
	assert.Equal(t, 3, parser.attempts)

	final, _ := store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusReady, final.Status)
}

func TestPipelineFailsAfterExhaustedRetries(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	parser := &fakeParser{results: []func() (string, error){
		func() (string, error) { return "", providers.Transient("parse", errors.New("503")) },
	}}
	p := testPipeline(t, store, parser, &fakeSummarizer{}, &fakeIndexer{})

	err := p.Run(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Equal(t, 3, parser.attempts)

	final, _ := store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "after 3 attempts")
}

func TestPipelinePermanentParseErrorFailsImmediately(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	parser := &fakeParser{results: []func() (string, error){
		func() (string, error) { return "", providers.Permanent("parse", errors.New("401 unauthorized")) },
	}}
	p := testPipeline(t, store, parser, &fakeSummarizer{}, &fakeIndexer{})

	err := p.Run(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Equal(t, 1, parser.attempts)

	final, _ := store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
}

func TestPipelineSummarizerFailureIsNotFatal(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	idx := &fakeIndexer{}
	p := testPipeline(t, store, parserOK(), &fakeSummarizer{err: errors.New("quota exceeded")}, idx)

	require.NoError(t, p.Run(context.Background(), doc.ID))

	final, _ := store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusReady, final.Status)

	require.Len(t, idx.upserts, 1)
	for _, page := range idx.upserts[0] {
		assert.Empty(t, page.Summary)
	}
}

func TestPipelineIndexFailureIsAllOrNothing(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	idx := &fakeIndexer{failWith: errors.New("mapping conflict"), partial: 1}
	p := testPipeline(t, store, parserOK(), &fakeSummarizer{}, idx)

	err := p.Run(context.Background(), doc.ID)
	require.Error(t, err)

	final, _ := store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, models.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, "1 of 2 pages")

	// Teilweise geschriebene Seiten werden abgeräumt.
	assert.Equal(t, []string{doc.ID}, idx.deletes)
}

func TestPipelineRejectsConcurrentRuns(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	p := testPipeline(t, store, parserOK(), &fakeSummarizer{}, &fakeIndexer{})

	require.True(t, p.acquire(doc.ID))
	defer p.release(doc.ID)

	err := p.Run(context.Background(), doc.ID)
	assert.ErrorIs(t, err, ErrPipelineBusy)
}

func TestPipelineAbortsWhenDocumentDeletedMidRun(t *testing.T) {
	doc := testDocument()
	store := newFakeDocStore(doc)
	store.deleteAt = models.StatusSummarizing
	idx := &fakeIndexer{}
	p := testPipeline(t, store, parserOK(), &fakeSummarizer{}, idx)

	// Abbruch wegen Löschung ist kein Fehler.
	require.NoError(t, p.Run(context.Background(), doc.ID))

	// Nichts wurde indiziert, das Dokument bleibt gelöscht.
	assert.Empty(t, idx.upserts)
	_, err := store.GetDocument(context.Background(), doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
}

func TestPipelineRejectsWrongInitialStatus(t *testing.T) {
	doc := testDocument()
	doc.Status = models.StatusReady
	store := newFakeDocStore(doc)
	p := testPipeline(t, store, parserOK(), &fakeSummarizer{}, &fakeIndexer{})

	err := p.Run(context.Background(), doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected uploaded")
}
