package rag

import (
	"context"
	"fmt"

	"github.com/vertexgrove/ragd/internal/vectorstore"
)

// QueryEmbedder turns a query string into a vector in the same space
// as the stored chunks.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Retriever struct {
	store    vectorstore.Store
	embedder QueryEmbedder
}

func NewRetriever(store vectorstore.Store, embedder QueryEmbedder) *Retriever {
	return &Retriever{store: store, embedder: embedder}
}

type RetrieveOptions struct {
	TopK     int
	MinScore float64
	// OverfetchFactor widens the store query to TopK*OverfetchFactor
	// candidates so deduplication still leaves TopK usable results.
	// Values below 1 mean no overfetch.
	OverfetchFactor int
	Filter          map[string]any
}

// Retrieve embeds the query and returns the nearest chunks, most
// similar first. Results below MinScore are excluded by the store.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts RetrieveOptions) ([]vectorstore.SearchResult, error) {
	queryVec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := opts.TopK
	if opts.OverfetchFactor > 1 {
		limit = opts.TopK * opts.OverfetchFactor
	}

	return r.store.Search(ctx, queryVec, vectorstore.SearchOptions{
		TopK:     limit,
		MinScore: opts.MinScore,
		Filter:   opts.Filter,
	})
}
