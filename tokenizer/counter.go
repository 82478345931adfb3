package tokenizer

import "github.com/BaSui01/agentloop/types"

// modelCounter bridges a Tokenizer to the types.TokenCounter interface,
// falling back to length estimation when the encoding is unavailable
// (for example offline, before tiktoken data is cached).
type modelCounter struct {
	tok      Tokenizer
	estimate *types.EstimateCounter
}

// NewCounter returns a TokenCounter for the given model. Known model
// families count exactly via tiktoken; everything else estimates.
func NewCounter(model string) types.TokenCounter {
	est := types.NewEstimateCounter()
	tok, ok := GetTokenizer(model)
	if !ok {
		return est
	}
	return &modelCounter{tok: tok, estimate: est}
}

func (c *modelCounter) CountTokens(text string) int {
	n, err := c.tok.CountTokens(text)
	if err != nil {
		return c.estimate.CountTokens(text)
	}
	return n
}

func (c *modelCounter) CountMessageTokens(msg types.Message) int {
	n, err := c.tok.CountMessages([]types.Message{msg})
	if err != nil {
		return c.estimate.CountMessageTokens(msg)
	}
	return n
}

func (c *modelCounter) CountMessagesTokens(msgs []types.Message) int {
	n, err := c.tok.CountMessages(msgs)
	if err != nil {
		return c.estimate.CountMessagesTokens(msgs)
	}
	return n
}

var _ types.TokenCounter = (*modelCounter)(nil)
