package rag

import (
	"context"
	"fmt"

	"github.com/vertexgrove/ragd/internal/llm"
	"github.com/vertexgrove/ragd/internal/vectorstore"
)

// Service is the query-side entry point: raw similarity search,
// context assembly, and grounded answer generation.
type Service interface {
	Search(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error)
	Context(ctx context.Context, req SearchRequest) (*ContextResult, error)
	Query(ctx context.Context, req QueryRequest) (*GenerateResponse, error)
}

type SearchRequest struct {
	Query    string         `json:"query"`
	TopK     int            `json:"top_k,omitempty"`
	MinScore float64        `json:"min_score,omitempty"`
	Filter   map[string]any `json:"filter,omitempty"`
}

type QueryRequest struct {
	Query    string         `json:"query"`
	TopK     int            `json:"top_k,omitempty"`
	MinScore float64        `json:"min_score,omitempty"`
	Filter   map[string]any `json:"filter,omitempty"`
	Model    string         `json:"model,omitempty"`
	Provider string         `json:"provider,omitempty"`
}

// Config carries the retrieval defaults; per-request values override
// TopK and MinScore.
type Config struct {
	TopK            int
	MinScore        float64
	OverfetchFactor int
	TokenBudget     int
	AdjacencyWindow int
}

func (c Config) withDefaults() Config {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.OverfetchFactor <= 0 {
		c.OverfetchFactor = 3
	}
	return c
}

type service struct {
	cfg       Config
	retriever *Retriever
	generator *Generator
}

func NewService(store vectorstore.Store, embedder QueryEmbedder, gw llm.Gateway, cfg Config) Service {
	return &service{
		cfg:       cfg.withDefaults(),
		retriever: NewRetriever(store, embedder),
		generator: NewGenerator(gw),
	}
}

func (s *service) Search(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error) {
	return s.retriever.Retrieve(ctx, req.Query, s.retrieveOpts(req.TopK, req.MinScore, req.Filter))
}

func (s *service) Context(ctx context.Context, req SearchRequest) (*ContextResult, error) {
	return s.assembleContext(ctx, req.Query, req.TopK, req.MinScore, req.Filter)
}

func (s *service) Query(ctx context.Context, req QueryRequest) (*GenerateResponse, error) {
	assembled, err := s.assembleContext(ctx, req.Query, req.TopK, req.MinScore, req.Filter)
	if err != nil {
		return nil, err
	}
	return s.generator.Generate(ctx, GenerateRequest{
		Query:    req.Query,
		Context:  assembled,
		Model:    req.Model,
		Provider: req.Provider,
	})
}

func (s *service) assembleContext(ctx context.Context, query string, topK int, minScore float64, filter map[string]any) (*ContextResult, error) {
	opts := s.retrieveOpts(topK, minScore, filter)
	results, err := s.retriever.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	assembler := NewAssembler(AssemblerConfig{
		TokenBudget:     s.cfg.TokenBudget,
		AdjacencyWindow: s.cfg.AdjacencyWindow,
		MaxResults:      opts.TopK,
	})
	return assembler.Assemble(results)
}

func (s *service) retrieveOpts(topK int, minScore float64, filter map[string]any) RetrieveOptions {
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	if minScore <= 0 {
		minScore = s.cfg.MinScore
	}
	return RetrieveOptions{
		TopK:            topK,
		MinScore:        minScore,
		OverfetchFactor: s.cfg.OverfetchFactor,
		Filter:          filter,
	}
}
