package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexgrove/ragd/internal/embedding"
	"github.com/vertexgrove/ragd/internal/llm"
	"github.com/vertexgrove/ragd/internal/models"
	"github.com/vertexgrove/ragd/internal/vectorstore"
	"github.com/vertexgrove/ragd/pkg/chunker"
	"github.com/vertexgrove/ragd/pkg/textextract"
)

// --- fakes ---

type memDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*models.Document
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[uuid.UUID]*models.Document)}
}

func (m *memDocs) add(doc *models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
}

func (m *memDocs) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, errors.New("document not found")
	}
	cp := *doc
	return &cp, nil
}

func (m *memDocs) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	if !models.ValidTransition(doc.Status, status) {
		return fmt.Errorf("invalid status transition: %s -> %s", doc.Status, status)
	}
	doc.Status = status
	return nil
}

func (m *memDocs) MarkFailed(ctx context.Context, id uuid.UUID, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	doc.Status = models.DocStatusFailed
	doc.ErrorDetail = detail
	return nil
}

func (m *memDocs) MarkIndexed(ctx context.Context, id uuid.UUID, contentHash string, chunkCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return errors.New("document not found")
	}
	doc.Status = models.DocStatusIndexed
	doc.ContentHash = contentHash
	doc.ChunkCount = chunkCount
	doc.ErrorDetail = ""
	return nil
}

// rawTextExtractor treats the stored bytes as the extracted text.
type rawTextExtractor struct {
	err error
}

func (e *rawTextExtractor) Extract(ctx context.Context, doc *models.Document) (*textextract.ExtractedText, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &textextract.ExtractedText{
		Content:  string(doc.RawData),
		Pages:    1,
		Metadata: map[string]string{"type": "txt"},
	}, nil
}

// countingEmbedder produces a fixed-dimension vector per text.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	err   error
	block chan struct{} // when set, Embed waits until the channel closes
}

func (e *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.texts += len(texts)
	block := e.block
	err := e.err
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		vecs[i] = []float32{float32(len(t)), float32(i + 1), 1}
	}
	return vecs, nil
}

func (e *countingEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// wordCodec tokenizes on whitespace; Decode joins with spaces.
type wordCodec struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func newWordCodec() *wordCodec { return &wordCodec{ids: make(map[string]int)} }

func (c *wordCodec) Encode(text string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var toks []int
	for _, w := range strings.Fields(text) {
		id, ok := c.ids[w]
		if !ok {
			id = len(c.words)
			c.ids[w] = id
			c.words = append(c.words, w)
		}
		toks = append(toks, id)
	}
	return toks
}

func (c *wordCodec) Decode(tokens []int) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = c.words[t]
	}
	return strings.Join(parts, " ")
}

func (c *wordCodec) Count(text string) int { return len(strings.Fields(text)) }

type failingStore struct {
	vectorstore.Store
	failUpserts bool
}

func (s *failingStore) Upsert(ctx context.Context, chunks []vectorstore.Chunk) error {
	if s.failUpserts {
		return fmt.Errorf("%w: simulated", vectorstore.ErrWriteFailed)
	}
	return s.Store.Upsert(ctx, chunks)
}

// --- fixtures ---

type fixture struct {
	docs     *memDocs
	store    *vectorstore.MemoryStore
	embedder *countingEmbedder
	pipeline *Pipeline
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	splitter, err := chunker.New(newWordCodec(), chunker.Config{MaxTokens: 4, OverlapTokens: 1})
	require.NoError(t, err)

	f := &fixture{
		docs:     newMemDocs(),
		store:    vectorstore.NewMemoryStore(3, vectorstore.MetricCosine),
		embedder: &countingEmbedder{},
	}
	f.pipeline = NewPipeline(f.docs, f.store, f.embedder, splitter, &rawTextExtractor{}, policy)
	return f
}

func (f *fixture) addDoc(text string) uuid.UUID {
	doc := &models.Document{
		ID:       uuid.New(),
		Title:    "test doc",
		FileType: ".txt",
		RawData:  []byte(text),
		Status:   models.DocStatusPending,
	}
	f.docs.add(doc)
	return doc.ID
}

func words(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("tok%d", i)
	}
	return strings.Join(out, " ")
}

func (f *fixture) chunkOrdinals(t *testing.T, docID uuid.UUID) []int {
	t.Helper()
	results, err := f.store.Search(context.Background(), []float32{1, 1, 1}, vectorstore.SearchOptions{TopK: 100})
	require.NoError(t, err)
	var ordinals []int
	for _, r := range results {
		if r.DocumentID == docID {
			ordinals = append(ordinals, r.Ordinal)
		}
	}
	return ordinals
}

// --- tests ---

func TestRunIndexesDocument(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(10))

	status, err := f.pipeline.Run(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, status)

	doc, err := f.docs.Get(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, doc.Status)
	assert.NotEmpty(t, doc.ContentHash)

	// 10 tokens, window 4, stride 3 → ordinals 0..2
	ordinals := f.chunkOrdinals(t, docID)
	assert.ElementsMatch(t, []int{0, 1, 2}, ordinals)
	assert.Equal(t, 3, doc.ChunkCount)
}

func TestRunEmptyDocumentIndexesWithZeroChunks(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc("")

	status, err := f.pipeline.Run(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, status)
	assert.Equal(t, 0, f.store.Count(docID))
	assert.Equal(t, 0, f.embedder.callCount())
}

func TestRunUnchangedHashIsNoOp(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(10))
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, docID)
	require.NoError(t, err)
	callsAfterFirst := f.embedder.callCount()

	idsBefore := f.chunkIDs(t, docID)

	status, err := f.pipeline.Run(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, status)
	assert.Equal(t, callsAfterFirst, f.embedder.callCount(), "no-op run must not call the embedder")
	assert.Equal(t, idsBefore, f.chunkIDs(t, docID), "stored chunk set must be untouched")
}

func (f *fixture) chunkIDs(t *testing.T, docID uuid.UUID) []uuid.UUID {
	t.Helper()
	results, err := f.store.Search(context.Background(), []float32{1, 1, 1}, vectorstore.SearchOptions{TopK: 100})
	require.NoError(t, err)
	var ids []uuid.UUID
	for _, r := range results {
		if r.DocumentID == docID {
			ids = append(ids, r.ChunkID)
		}
	}
	return ids
}

func TestRunChangedContentReplacesChunks(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(10))
	ctx := context.Background()

	_, err := f.pipeline.Run(ctx, docID)
	require.NoError(t, err)
	firstHashDoc, _ := f.docs.Get(ctx, docID)

	// new content, 7 tokens → window 4, stride 3 → ordinals 0,1
	f.docs.mu.Lock()
	f.docs.docs[docID].RawData = []byte("a b c d e f g")
	f.docs.mu.Unlock()

	status, err := f.pipeline.Run(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, status)

	doc, err := f.docs.Get(ctx, docID)
	require.NoError(t, err)
	assert.NotEqual(t, firstHashDoc.ContentHash, doc.ContentHash)
	assert.ElementsMatch(t, []int{0, 1}, f.chunkOrdinals(t, docID), "prior chunk set must be replaced")
}

func TestRunExtractionFailure(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(10))
	f.pipeline.extractor = &rawTextExtractor{err: fmt.Errorf("%w: corrupt file", ErrExtractionFailed)}

	status, err := f.pipeline.Run(context.Background(), docID)
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Equal(t, models.DocStatusFailed, status)

	doc, _ := f.docs.Get(context.Background(), docID)
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorDetail, "corrupt file")
	assert.Equal(t, 0, f.store.Count(docID))
}

func TestRunEmbeddingFailureRollsBack(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(10))
	ctx := context.Background()

	// first a successful ingest so there is prior state to roll back
	_, err := f.pipeline.Run(ctx, docID)
	require.NoError(t, err)
	require.Greater(t, f.store.Count(docID), 0)

	f.docs.mu.Lock()
	f.docs.docs[docID].RawData = []byte(words(12))
	f.docs.mu.Unlock()
	f.embedder.err = fmt.Errorf("%w: provider down", embedding.ErrUnavailable)

	status, err := f.pipeline.Run(ctx, docID)
	require.ErrorIs(t, err, embedding.ErrUnavailable)
	assert.Equal(t, models.DocStatusFailed, status)

	doc, _ := f.docs.Get(ctx, docID)
	assert.Equal(t, models.DocStatusFailed, doc.Status)
	assert.Equal(t, 0, f.store.Count(docID), "no chunks of the failed document may remain visible")
}

func TestRunStoreWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(10))
	f.pipeline.store = &failingStore{Store: f.store, failUpserts: true}

	status, err := f.pipeline.Run(context.Background(), docID)
	require.ErrorIs(t, err, vectorstore.ErrWriteFailed)
	assert.Equal(t, models.DocStatusFailed, status)
	assert.Equal(t, 0, f.store.Count(docID))
}

func TestRunRejectPolicy(t *testing.T) {
	f := newFixture(t, PolicyReject)
	docID := f.addDoc(words(10))

	block := make(chan struct{})
	f.embedder.block = block

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := f.pipeline.Run(context.Background(), docID)
		done <- err
	}()
	<-started

	// wait until the first run is inside the embedder
	require.Eventually(t, func() bool { return f.embedder.callCount() > 0 }, 2*time.Second, time.Millisecond)

	_, err := f.pipeline.Run(context.Background(), docID)
	assert.ErrorIs(t, err, ErrInProgress)

	close(block)
	require.NoError(t, <-done)
}

func TestRunQueuePolicySerializes(t *testing.T) {
	f := newFixture(t, PolicyQueue)
	docID := f.addDoc(words(20))

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.pipeline.Run(context.Background(), docID)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "run %d", i)
	}

	// 20 tokens, window 4, stride 3 → ordinals 0..6, exactly once each
	ordinals := f.chunkOrdinals(t, docID)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5, 6}, ordinals,
		"concurrent runs must never duplicate or overlap chunk ordinals")
}

// gateway that fails transiently a fixed number of times, for driving
// the real embedding service through the pipeline.
type flakyGateway struct {
	mu            sync.Mutex
	transientLeft int
}

func (g *flakyGateway) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transientLeft > 0 {
		g.transientLeft--
		return nil, &llm.ProviderError{Provider: "flaky", Status: 503, Transient: true, Err: errors.New("unavailable")}
	}
	vecs := make([][]float32, len(req.Input))
	for i, text := range req.Input {
		vecs[i] = []float32{float32(len(text)), float32(i + 1), 1}
	}
	return &llm.EmbeddingResponse{Embeddings: vecs}, nil
}

func (g *flakyGateway) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (g *flakyGateway) Provider(name string) (llm.Provider, error) {
	return nil, errors.New("not implemented")
}

func TestRunRecoversFromTransientEmbeddingFailures(t *testing.T) {
	splitter, err := chunker.New(newWordCodec(), chunker.Config{MaxTokens: 4, OverlapTokens: 1})
	require.NoError(t, err)

	docs := newMemDocs()
	store := vectorstore.NewMemoryStore(3, vectorstore.MetricCosine)
	svc := embedding.NewService(&flakyGateway{transientLeft: 2}, embedding.Config{
		Model:          "fake",
		BatchSize:      100,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		Parallelism:    1,
	})
	p := NewPipeline(docs, store, svc, splitter, &rawTextExtractor{}, PolicyQueue)

	doc := &models.Document{ID: uuid.New(), Title: "flaky", FileType: ".txt",
		RawData: []byte(words(10)), Status: models.DocStatusPending}
	docs.add(doc)

	status, err := p.Run(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, status)
	assert.Equal(t, 3, store.Count(doc.ID), "exactly one chunk per segment, no duplicates")
}
