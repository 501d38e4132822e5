package embeddings

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Chunker splits long texts into token-bounded windows with overlap.
type Chunker struct {
	maxTokens     int
	overlapTokens int
	enc           *tiktoken.Tiktoken
}

// NewChunker builds a chunker over the cl100k_base encoding, which matches
// the text-embedding-3 family.
func NewChunker(maxTokens, overlapTokens int) (*Chunker, error) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 8
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Chunker{maxTokens: maxTokens, overlapTokens: overlapTokens, enc: enc}, nil
}

// CountTokens returns the token length of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Split returns text in token windows of at most maxTokens, consecutive
// windows sharing overlapTokens. Text that already fits comes back as a
// single element.
func (c *Chunker) Split(text string) []string {
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= c.maxTokens {
		return []string{text}
	}

	step := c.maxTokens - c.overlapTokens
	var out []string
	for i := 0; i < len(tokens); i += step {
		end := i + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, c.enc.Decode(tokens[i:end]))
		if end == len(tokens) {
			break
		}
	}
	return out
}
