// Package chunker splits extracted document text into overlapping,
// token-bounded segments for embedding.
package chunker

import (
	"errors"
	"fmt"
	"iter"

	"github.com/vertexgrove/ragd/pkg/tokenizer"
)

var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Config bounds each segment. Consecutive segments share exactly
// OverlapTokens tokens; the final segment may be shorter than MaxTokens.
type Config struct {
	MaxTokens     int
	OverlapTokens int
}

func DefaultConfig() Config {
	return Config{MaxTokens: 512, OverlapTokens: 64}
}

// Segment is one bounded window of the source text. Index positions are
// contiguous starting at zero.
type Segment struct {
	Index      int
	Text       string
	TokenCount int
}

type Splitter struct {
	codec tokenizer.Codec
	cfg   Config
}

func New(codec tokenizer.Codec, cfg Config) (*Splitter, error) {
	if cfg.MaxTokens <= 0 {
		return nil, fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidConfig, cfg.MaxTokens)
	}
	if cfg.OverlapTokens < 0 {
		return nil, fmt.Errorf("%w: overlap_tokens must not be negative, got %d", ErrInvalidConfig, cfg.OverlapTokens)
	}
	if cfg.OverlapTokens >= cfg.MaxTokens {
		return nil, fmt.Errorf("%w: overlap_tokens (%d) must be less than max_tokens (%d)",
			ErrInvalidConfig, cfg.OverlapTokens, cfg.MaxTokens)
	}
	return &Splitter{codec: codec, cfg: cfg}, nil
}

func (s *Splitter) Config() Config { return s.cfg }

// Split returns a lazy sequence of segments. Each range over the result
// restarts from the beginning of the text. Empty input yields nothing.
func (s *Splitter) Split(text string) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		toks := s.codec.Encode(text)
		if len(toks) == 0 {
			return
		}

		stride := s.cfg.MaxTokens - s.cfg.OverlapTokens
		idx := 0
		for start := 0; start < len(toks); start += stride {
			end := start + s.cfg.MaxTokens
			if end > len(toks) {
				end = len(toks)
			}

			seg := Segment{
				Index:      idx,
				Text:       s.codec.Decode(toks[start:end]),
				TokenCount: end - start,
			}
			if !yield(seg) {
				return
			}
			idx++

			if end == len(toks) {
				return
			}
		}
	}
}

// SplitAll collects the full segment sequence into a slice.
func (s *Splitter) SplitAll(text string) []Segment {
	var segs []Segment
	for seg := range s.Split(text) {
		segs = append(segs, seg)
	}
	return segs
}
