// Package tokenizer provides model-aware token counting. Exact counts
// come from tiktoken encodings for known model families; unknown models
// fall back to a byte-length estimator.
package tokenizer

import (
	"sort"
	"sync"

	"github.com/BaSui01/agentloop/types"
)

// Tokenizer counts and encodes tokens for a specific model encoding.
type Tokenizer interface {
	CountTokens(text string) (int, error)
	CountMessages(messages []types.Message) (int, error)
	Encode(text string) ([]int, error)
	Decode(tokens []int) (string, error)
	MaxTokens() int
	Name() string
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Tokenizer{}
)

// RegisterTokenizer registers a tokenizer under a model name. Later
// registrations for the same model replace earlier ones.
func RegisterTokenizer(model string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[model] = t
}

// GetTokenizer returns the tokenizer registered for the model. Exact
// matches win; otherwise the longest registered prefix of the model
// name is used ("gpt-4o-2024-11-20" matches "gpt-4o").
func GetTokenizer(model string) (Tokenizer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if t, ok := registry[model]; ok {
		return t, true
	}

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	// longest prefix first
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		if len(model) > len(name) && model[:len(name)] == name {
			return registry[name], true
		}
	}
	return nil, false
}

func init() {
	registerOpenAITokenizers()
}
