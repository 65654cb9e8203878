package completion

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Budget bounds the token footprint of assembled prompt context. Stage
// prompt builders run accumulated outputs (research, drafts, previews)
// through Fit before embedding them, so revision loops cannot grow a
// prompt without bound.
type Budget struct {
	encoding  string
	maxTokens int

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// DefaultContextTokens is the per-fragment ceiling used when a graph does
// not configure its own budget.
const DefaultContextTokens = 3000

// NewBudget creates a budget with the given per-fragment token ceiling.
func NewBudget(maxTokens int) *Budget {
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}
	return &Budget{encoding: "cl100k_base", maxTokens: maxTokens}
}

func (b *Budget) encoder() (*tiktoken.Tiktoken, error) {
	b.once.Do(func() {
		b.enc, b.err = tiktoken.GetEncoding(b.encoding)
	})
	return b.enc, b.err
}

// Fit truncates text to the budget, keeping the head. When the tokenizer
// is unavailable it falls back to a character heuristic (~4 chars/token)
// rather than failing the generation.
func (b *Budget) Fit(text string) string {
	enc, err := b.encoder()
	if err != nil {
		limit := b.maxTokens * 4
		if len(text) <= limit {
			return text
		}
		return text[:limit]
	}

	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= b.maxTokens {
		return text
	}
	return enc.Decode(tokens[:b.maxTokens])
}

// Count returns the token count of text, or the character heuristic when
// the tokenizer is unavailable.
func (b *Budget) Count(text string) int {
	enc, err := b.encoder()
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
