package agent

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates the token length of text.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter assumes four characters per token.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return utf8.RuneCountInString(text) / 4
}

// TiktokenCounter counts with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads a named encoding such as "cl100k_base". Loading may
// need network access to fetch the rank file on first use.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
