package rag

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vertexgrove/ragd/internal/vectorstore"
)

// Provenance records where an assembled context passage came from.
type Provenance struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Ordinal    int       `json:"ordinal"`
	Score      float64   `json:"score"`
}

// ContextResult is an assembled prompt context plus the provenance of
// every passage it contains, in the order they appear in Text.
type ContextResult struct {
	Text       string       `json:"text"`
	Passages   []string     `json:"-"`
	TokenCount int          `json:"token_count"`
	Sources    []Provenance `json:"sources"`
}

type AssemblerConfig struct {
	// TokenBudget caps the total token count of the assembled context.
	TokenBudget int
	// AdjacencyWindow collapses near-duplicate results: when two
	// results come from the same document and their ordinals differ by
	// at most this many positions, only the higher-scored one is kept.
	AdjacencyWindow int
	// MaxResults caps how many passages survive deduplication before
	// budget packing. Zero means no cap.
	MaxResults int
}

// Assembler turns ranked search results into a single context string
// that fits a token budget.
type Assembler struct {
	cfg AssemblerConfig
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	return &Assembler{cfg: cfg}
}

// Assemble deduplicates results, then packs them greedily in score
// order until the next passage would exceed the token budget. It
// returns ErrNoContext when nothing survives.
//
// Results must arrive sorted by descending score, which is what the
// store's Search guarantees.
func (a *Assembler) Assemble(results []vectorstore.SearchResult) (*ContextResult, error) {
	kept := a.dedupe(results)
	if a.cfg.MaxResults > 0 && len(kept) > a.cfg.MaxResults {
		kept = kept[:a.cfg.MaxResults]
	}

	var (
		passages []string
		sources  []Provenance
		total    int
	)
	for _, r := range kept {
		if a.cfg.TokenBudget > 0 && total+r.TokenCount > a.cfg.TokenBudget {
			break
		}
		passages = append(passages, r.Text)
		total += r.TokenCount
		sources = append(sources, Provenance{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Ordinal:    r.Ordinal,
			Score:      r.Score,
		})
	}

	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: %d results, budget %d tokens",
			ErrNoContext, len(results), a.cfg.TokenBudget)
	}

	return &ContextResult{
		Text:       strings.Join(passages, "\n\n"),
		Passages:   passages,
		TokenCount: total,
		Sources:    sources,
	}, nil
}

// dedupe walks results best-first and drops any result that sits
// within the adjacency window of an already-kept result from the same
// document. Window 0 still collapses exact ordinal duplicates.
func (a *Assembler) dedupe(results []vectorstore.SearchResult) []vectorstore.SearchResult {
	kept := make([]vectorstore.SearchResult, 0, len(results))
	for _, r := range results {
		shadowed := false
		for _, k := range kept {
			if k.DocumentID != r.DocumentID {
				continue
			}
			if absInt(k.Ordinal-r.Ordinal) <= a.cfg.AdjacencyWindow {
				shadowed = true
				break
			}
		}
		if !shadowed {
			kept = append(kept, r)
		}
	}
	return kept
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
