package types

import "unicode"

// TokenCounter estimates or measures the token cost of text and messages.
// Implementations must be safe for concurrent use.
type TokenCounter interface {
	CountTokens(text string) int
	CountMessageTokens(msg Message) int
	CountMessagesTokens(msgs []Message) int
}

// per-message wrapping overhead (role markers and separators).
const msgOverhead = 4

// EstimateCounter is a heuristic token counter used when no model
// tokenizer is available. It assumes roughly four bytes per token for
// Latin text and one token per CJK character.
type EstimateCounter struct{}

// NewEstimateCounter creates a heuristic token counter.
func NewEstimateCounter() *EstimateCounter {
	return &EstimateCounter{}
}

func (e *EstimateCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	cjk := 0
	other := 0
	for _, r := range text {
		if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
			unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
			cjk++
		} else {
			other++
		}
	}
	n := cjk + (other+3)/4
	if n == 0 {
		n = 1
	}
	return n
}

func (e *EstimateCounter) CountMessageTokens(msg Message) int {
	return e.CountTokens(msg.Content) + e.CountTokens(string(msg.Role)) + msgOverhead
}

func (e *EstimateCounter) CountMessagesTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountMessageTokens(m)
	}
	return total
}

var _ TokenCounter = (*EstimateCounter)(nil)
