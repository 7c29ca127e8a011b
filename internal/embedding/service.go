// Package embedding adapts the provider gateway to a uniform batch
// embedding interface with retry, sub-batching, and caching.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vertexgrove/ragd/internal/llm"
)

var (
	// ErrUnavailable surfaces after transient provider failures exhaust
	// the retry budget. The caller decides whether to abort or defer.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrRejected marks a permanent provider failure (malformed input,
	// auth); it is never retried.
	ErrRejected = errors.New("embedding request rejected")
)

type Config struct {
	Provider       string
	Model          string
	BatchSize      int // max texts per provider call
	MaxRetries     int // retries per batch after the first attempt
	InitialBackoff time.Duration
	RequestTimeout time.Duration
	Parallelism    int // concurrent provider calls per Embed
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	return c
}

// VectorCache is consulted before provider calls. Satisfied by *Cache.
type VectorCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Put(ctx context.Context, model, text string, embedding []float32)
}

type Service struct {
	gateway llm.Gateway
	cfg     Config
	cache   VectorCache
}

type Option func(*Service)

func WithCache(cache VectorCache) Option {
	return func(s *Service) { s.cache = cache }
}

func NewService(gw llm.Gateway, cfg Config, opts ...Option) *Service {
	s := &Service{gateway: gw, cfg: cfg.withDefaults()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Embed returns one vector per input text, in input order. Oversized
// requests are split into provider-sized batches transparently; batches
// run concurrently and the first failure cancels the rest, so a partial
// result is never returned.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	var missIdx []int
	if s.cache != nil {
		for i, t := range texts {
			if vec, ok := s.cache.Get(ctx, s.cfg.Model, t); ok {
				out[i] = vec
			} else {
				missIdx = append(missIdx, i)
			}
		}
	} else {
		missIdx = make([]int, len(texts))
		for i := range texts {
			missIdx[i] = i
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for start := 0; start < len(missIdx); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(missIdx) {
			end = len(missIdx)
		}
		idx := missIdx[start:end]

		g.Go(func() error {
			batch := make([]string, len(idx))
			for i, j := range idx {
				batch[i] = texts[j]
			}

			vecs, err := s.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			for i, j := range idx {
				out[j] = vecs[i]
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		for _, j := range missIdx {
			s.cache.Put(ctx, s.cfg.Model, texts[j], out[j])
		}
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("%w: no embedding returned", ErrRejected)
	}
	return vecs[0], nil
}

// embedBatch issues one provider call with bounded timeout, retrying
// transient failures with exponential backoff.
func (s *Service) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.InitialBackoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
		resp, err := s.gateway.Embed(callCtx, llm.EmbeddingRequest{
			Provider: s.cfg.Provider,
			Model:    s.cfg.Model,
			Input:    batch,
		})
		cancel()

		if err == nil {
			if len(resp.Embeddings) != len(batch) {
				return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrRejected, len(resp.Embeddings), len(batch))
			}
			return resp.Embeddings, nil
		}

		// The caller cancelling is not a provider fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if !llm.IsTransient(err) {
			return nil, fmt.Errorf("%w: %w", ErrRejected, err)
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %d attempts: %w", ErrUnavailable, s.cfg.MaxRetries+1, lastErr)
}
