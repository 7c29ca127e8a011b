package vectorstore

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an exact-scan implementation of the Store contract.
// It honors the same batch atomicity, tie-break, and pre-filter
// semantics as PgStore and is used for tests and local runs where a
// Postgres instance is not available.
type MemoryStore struct {
	mu     sync.RWMutex
	dim    int
	metric Metric
	chunks map[uuid.UUID]Chunk
}

func NewMemoryStore(dim int, metric Metric) *MemoryStore {
	return &MemoryStore{
		dim:    dim,
		metric: metric,
		chunks: make(map[uuid.UUID]Chunk),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	// Validate the whole batch before touching state so a rejected chunk
	// leaves nothing partially visible.
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, store expects %d",
				ErrDimensionMismatch, c.ID, len(c.Embedding), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		if c.Metadata != nil {
			meta := make(map[string]any, len(c.Metadata))
			for k, v := range c.Metadata {
				meta[k] = v
			}
			c.Metadata = meta
		}
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store expects %d",
			ErrDimensionMismatch, len(query), s.dim)
	}
	if opts.TopK <= 0 {
		opts.TopK = 10
	}

	s.mu.RLock()
	var results []SearchResult
	for _, c := range s.chunks {
		if !matchesFilter(c.Metadata, opts.Filter) {
			continue
		}
		score := s.score(query, c.Embedding)
		if opts.MinScore > 0 && score < opts.MinScore {
			continue
		}
		results = append(results, SearchResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Ordinal:    c.Ordinal,
			Text:       c.Text,
			TokenCount: c.TokenCount,
			Metadata:   c.Metadata,
			Score:      score,
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return bytes.Compare(results[i].ChunkID[:], results[j].ChunkID[:]) < 0
	})

	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

func (s *MemoryStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

// Count returns the number of stored chunks, optionally restricted to
// one document.
func (s *MemoryStore) Count(documentID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if documentID == uuid.Nil {
		return len(s.chunks)
	}
	n := 0
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) score(query, embedding []float32) float64 {
	switch s.metric {
	case MetricDot:
		return dot(query, embedding)
	default:
		return cosine(query, embedding)
	}
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	var dotProd, normA, normB float64
	for i := range a {
		dotProd += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProd / (math.Sqrt(normA) * math.Sqrt(normB))
}
