package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordCodec tokenizes on whitespace. Decode joins with single spaces, so
// Decode(Encode(s)) round-trips for inputs normalized the same way.
type wordCodec struct {
	ids   map[string]int
	words []string
}

func newWordCodec() *wordCodec {
	return &wordCodec{ids: make(map[string]int)}
}

func (c *wordCodec) Encode(text string) []int {
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
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = c.words[t]
	}
	return strings.Join(parts, " ")
}

func (c *wordCodec) Count(text string) int {
	return len(strings.Fields(text))
}

func sampleText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	codec := newWordCodec()

	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{"overlap equals max", Config{MaxTokens: 10, OverlapTokens: 10}},
		{"overlap exceeds max", Config{MaxTokens: 10, OverlapTokens: 12}},
		{"zero max", Config{MaxTokens: 0, OverlapTokens: 0}},
		{"negative overlap", Config{MaxTokens: 10, OverlapTokens: -1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(codec, tc.cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	s, err := New(newWordCodec(), Config{MaxTokens: 8, OverlapTokens: 2})
	require.NoError(t, err)

	assert.Empty(t, s.SplitAll(""))
	assert.Empty(t, s.SplitAll("   \n\t  "))
}

func TestSplitBounds(t *testing.T) {
	codec := newWordCodec()
	s, err := New(codec, Config{MaxTokens: 8, OverlapTokens: 3})
	require.NoError(t, err)

	segs := s.SplitAll(sampleText(30))
	require.NotEmpty(t, segs)

	for i, seg := range segs {
		assert.Equal(t, i, seg.Index, "ordinals must be contiguous from zero")
		assert.LessOrEqual(t, seg.TokenCount, 8, "no segment may exceed max_tokens")
		assert.Equal(t, codec.Count(seg.Text), seg.TokenCount)
	}

	// All but the last segment are full windows.
	for _, seg := range segs[:len(segs)-1] {
		assert.Equal(t, 8, seg.TokenCount)
	}
}

func TestSplitOverlapIsExact(t *testing.T) {
	codec := newWordCodec()
	s, err := New(codec, Config{MaxTokens: 6, OverlapTokens: 2})
	require.NoError(t, err)

	segs := s.SplitAll(sampleText(20))
	require.Greater(t, len(segs), 1)

	for i := 1; i < len(segs); i++ {
		prev := codec.Encode(segs[i-1].Text)
		cur := codec.Encode(segs[i].Text)
		assert.Equal(t, prev[len(prev)-2:], cur[:2],
			"segment %d must begin with the last 2 tokens of segment %d", i, i-1)
	}
}

func TestSplitReconstructsTokenSequence(t *testing.T) {
	for _, tc := range []struct {
		max, overlap, words int
	}{
		{8, 3, 30},
		{6, 2, 20},
		{4, 1, 4},
		{4, 1, 5},
		{5, 4, 23},
		{7, 0, 15},
		{10, 3, 3}, // single short segment
	} {
		t.Run(fmt.Sprintf("max=%d_overlap=%d_words=%d", tc.max, tc.overlap, tc.words), func(t *testing.T) {
			codec := newWordCodec()
			s, err := New(codec, Config{MaxTokens: tc.max, OverlapTokens: tc.overlap})
			require.NoError(t, err)

			text := sampleText(tc.words)
			want := codec.Encode(text)

			var got []int
			for i, seg := range s.SplitAll(text) {
				toks := codec.Encode(seg.Text)
				if i > 0 {
					toks = toks[tc.overlap:]
				}
				got = append(got, toks...)
			}
			assert.Equal(t, want, got, "de-overlapped concatenation must equal the original token sequence")
		})
	}
}

func TestSplitNoTrailingDuplicate(t *testing.T) {
	// 10 tokens, stride 2: the last window must end the sequence rather
	// than emit an extra segment fully contained in its predecessor.
	codec := newWordCodec()
	s, err := New(codec, Config{MaxTokens: 4, OverlapTokens: 2})
	require.NoError(t, err)

	segs := s.SplitAll(sampleText(10))
	require.Len(t, segs, 4)
	assert.Equal(t, 4, segs[len(segs)-1].TokenCount)
}

func TestSplitIsRestartable(t *testing.T) {
	s, err := New(newWordCodec(), Config{MaxTokens: 5, OverlapTokens: 1})
	require.NoError(t, err)

	text := sampleText(17)
	seq := s.Split(text)

	first := make([]Segment, 0)
	for seg := range seq {
		first = append(first, seg)
	}
	second := make([]Segment, 0)
	for seg := range seq {
		second = append(second, seg)
	}
	assert.Equal(t, first, second, "ranging twice must restart from the beginning")
}

func TestSplitStopsEarly(t *testing.T) {
	s, err := New(newWordCodec(), Config{MaxTokens: 4, OverlapTokens: 1})
	require.NoError(t, err)

	var n int
	for range s.Split(sampleText(40)) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}
