package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexgrove/ragd/internal/llm"
)

// fakeGateway returns a deterministic vector per text and can be primed
// with transient or permanent failures.
type fakeGateway struct {
	mu            sync.Mutex
	calls         [][]string
	transientLeft int
	permanentErr  error
}

func (g *fakeGateway) Embed(ctx context.Context, req llm.EmbeddingRequest) (*llm.EmbeddingResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, append([]string(nil), req.Input...))

	if g.permanentErr != nil {
		return nil, g.permanentErr
	}
	if g.transientLeft > 0 {
		g.transientLeft--
		return nil, &llm.ProviderError{Provider: "fake", Status: 429, Transient: true, Err: errors.New("rate limited")}
	}

	vecs := make([][]float32, len(req.Input))
	for i, t := range req.Input {
		vecs[i] = vectorFor(t)
	}
	return &llm.EmbeddingResponse{Provider: "fake", Model: req.Model, Embeddings: vecs}, nil
}

func (g *fakeGateway) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) Provider(name string) (llm.Provider, error) {
	return nil, errors.New("not implemented")
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func vectorFor(text string) []float32 {
	return []float32{float32(len(text)), float32(text[0])}
}

func fastConfig() Config {
	return Config{
		Model:          "fake-embed",
		BatchSize:      2,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		RequestTimeout: time.Second,
		Parallelism:    1,
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, fastConfig())

	vecs, err := svc.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
	assert.Equal(t, 0, gw.callCount())
}

func TestEmbedBatchesPreserveOrder(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, fastConfig())

	texts := []string{"alpha", "be", "gamma!", "d", "epsilonn"}
	vecs, err := svc.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		assert.Equal(t, vectorFor(text), vecs[i], "vector %d must match input %q", i, text)
	}
	// 5 texts at batch size 2 → 3 provider calls
	assert.Equal(t, 3, gw.callCount())
	assert.Len(t, gw.calls[0], 2)
	assert.Len(t, gw.calls[2], 1)
}

func TestEmbedRetriesTransientThenSucceeds(t *testing.T) {
	gw := &fakeGateway{transientLeft: 2}
	svc := NewService(gw, fastConfig())

	vecs, err := svc.Embed(context.Background(), []string{"hello"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, vectorFor("hello"), vecs[0])
	assert.Equal(t, 3, gw.callCount(), "two transient failures then one success")
}

func TestEmbedUnavailableAfterExhaustion(t *testing.T) {
	gw := &fakeGateway{transientLeft: 10}
	svc := NewService(gw, fastConfig())

	_, err := svc.Embed(context.Background(), []string{"hello"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, 3, gw.callCount(), "initial attempt plus MaxRetries")
}

func TestEmbedPermanentFailureNotRetried(t *testing.T) {
	gw := &fakeGateway{permanentErr: &llm.ProviderError{Provider: "fake", Status: 401, Err: errors.New("bad key")}}
	svc := NewService(gw, fastConfig())

	_, err := svc.Embed(context.Background(), []string{"hello"})
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, gw.callCount())
}

func TestEmbedCancellation(t *testing.T) {
	gw := &fakeGateway{transientLeft: 100}
	cfg := fastConfig()
	cfg.InitialBackoff = time.Hour // force the retry wait to block
	cfg.MaxRetries = 5
	svc := NewService(gw, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Embed(ctx, []string{"hello"})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Embed did not observe cancellation")
	}
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]float32
	hits int
}

func (c *mapCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.data[model+"|"+text]
	if ok {
		c.hits++
	}
	return vec, ok
}

func (c *mapCache) Put(ctx context.Context, model, text string, embedding []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[model+"|"+text] = embedding
}

func TestEmbedUsesCache(t *testing.T) {
	gw := &fakeGateway{}
	cache := &mapCache{data: make(map[string][]float32)}
	svc := NewService(gw, fastConfig(), WithCache(cache))

	ctx := context.Background()
	texts := []string{"one", "two"}

	first, err := svc.Embed(ctx, texts)
	require.NoError(t, err)
	callsAfterFirst := gw.callCount()
	require.Greater(t, callsAfterFirst, 0)

	second, err := svc.Embed(ctx, texts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterFirst, gw.callCount(), "second call must be served from cache")
	assert.Equal(t, 2, cache.hits)
}

func TestEmbedQuerySingleVector(t *testing.T) {
	gw := &fakeGateway{}
	svc := NewService(gw, fastConfig())

	vec, err := svc.EmbedQuery(context.Background(), "a query")
	require.NoError(t, err)
	assert.Equal(t, vectorFor("a query"), vec)
}

func TestEmbedManyBatchesSurfaceSingleFailure(t *testing.T) {
	// Force a permanent failure on every call and many batches; the
	// group must surface one classified error, never a partial result.
	gw := &fakeGateway{permanentErr: &llm.ProviderError{Provider: "fake", Status: 400, Err: fmt.Errorf("bad input")}}
	cfg := fastConfig()
	cfg.Parallelism = 4
	svc := NewService(gw, cfg)

	texts := make([]string, 9)
	for i := range texts {
		texts[i] = fmt.Sprintf("text-%d", i)
	}
	vecs, err := svc.Embed(context.Background(), texts)
	require.ErrorIs(t, err, ErrRejected)
	assert.Nil(t, vecs)
}
