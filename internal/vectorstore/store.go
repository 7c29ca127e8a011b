// Package vectorstore persists chunk embeddings and serves top-k
// similarity search over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrWriteFailed marks a rejected or failed upsert batch. The store
	// guarantees no chunk from the batch became visible.
	ErrWriteFailed = errors.New("vector store write failed")

	// ErrDimensionMismatch rejects chunks whose embedding length does not
	// match the store's configured dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimensionality mismatch")
)

// Metric selects the similarity function, fixed at store construction.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricDot:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", s)
	}
}

// Chunk is the persisted unit of similarity search. Ordinal is the
// chunk's position within its document, contiguous from zero.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Ordinal    int
	Text       string
	Embedding  []float32
	TokenCount int
	Metadata   map[string]any
}

type SearchOptions struct {
	TopK     int
	MinScore float64
	// Filter restricts candidates to chunks whose metadata contains all
	// given key/value pairs, applied before ranking.
	Filter map[string]any
}

type SearchResult struct {
	ChunkID    uuid.UUID      `json:"chunk_id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Ordinal    int            `json:"ordinal"`
	Text       string         `json:"text"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Score      float64        `json:"score"`
}

// Store is the persistence contract for chunk vectors.
//
// Upsert is idempotent by chunk ID and atomic at the batch level.
// Search returns up to TopK results ranked by similarity, highest
// first, ties broken by lower chunk ID. DeleteDocument removes every
// chunk of a document and doubles as the compensating action for a
// failed ingestion.
type Store interface {
	Upsert(ctx context.Context, chunks []Chunk) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error)
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}
