package loopctx

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/BaSui01/agentloop/types"
)

// Compressor condenses a slice of history messages into fewer, shorter
// ones. Implementations never mutate the input slice.
type Compressor interface {
	Compress(ctx context.Context, msgs []types.Message) ([]types.Message, error)
	Name() string
}

// Summarizer produces a prose summary of a message window. It is the
// hook for LLM-backed compression; the framework only sees the text.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []types.Message) (string, error)
}

// Compression strategy names accepted in loop definitions.
const (
	StrategyTruncate  = "truncate"
	StrategySummarize = "summarize"
	StrategyAdaptive  = "adaptive"
)

// NewCompressor builds a compressor for a configured strategy name.
// Strategies that need a summarizer degrade to truncation when none is
// provided.
func NewCompressor(strategy string, s Summarizer) Compressor {
	switch strategy {
	case StrategySummarize:
		if s != nil {
			return &SummarizeCompressor{Summarizer: s}
		}
		return NewTruncateCompressor(0)
	case StrategyAdaptive:
		return &AdaptiveCompressor{Summarizer: s}
	default:
		return NewTruncateCompressor(0)
	}
}

// TruncateCompressor is the deterministic fallback strategy: it folds
// the window into a single clipped digest message. It cannot fail.
type TruncateCompressor struct {
	// MaxChars bounds the digest length per source message.
	MaxChars int
}

const defaultTruncateChars = 500

// NewTruncateCompressor creates a truncating compressor. maxChars <= 0
// selects the default clip length.
func NewTruncateCompressor(maxChars int) *TruncateCompressor {
	if maxChars <= 0 {
		maxChars = defaultTruncateChars
	}
	return &TruncateCompressor{MaxChars: maxChars}
}

func (t *TruncateCompressor) Compress(_ context.Context, msgs []types.Message) ([]types.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[compressed %d earlier messages]\n", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, clip(m.Content, t.MaxChars))
	}
	digest := types.NewAssistantMessage(b.String())
	digest = digest.WithMetadata("compressed", true)
	return []types.Message{digest}, nil
}

func (t *TruncateCompressor) Name() string { return StrategyTruncate }

// clip bounds s to max bytes without splitting a multi-byte rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// SummarizeCompressor replaces the window with a single summary message
// produced by the summarizer.
type SummarizeCompressor struct {
	Summarizer Summarizer
}

func (s *SummarizeCompressor) Compress(ctx context.Context, msgs []types.Message) ([]types.Message, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	text, err := s.Summarizer.Summarize(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("summarize %d messages: %w", len(msgs), err)
	}
	summary := types.NewAssistantMessage(fmt.Sprintf("[summary of %d earlier messages]\n%s", len(msgs), text))
	summary = summary.WithMetadata("compressed", true)
	return []types.Message{summary}, nil
}

func (s *SummarizeCompressor) Name() string { return StrategySummarize }

// AdaptiveCompressor tries summarization and falls back to truncation
// when the summarizer is absent or fails.
type AdaptiveCompressor struct {
	Summarizer Summarizer
}

func (a *AdaptiveCompressor) Compress(ctx context.Context, msgs []types.Message) ([]types.Message, error) {
	if a.Summarizer != nil {
		sc := &SummarizeCompressor{Summarizer: a.Summarizer}
		out, err := sc.Compress(ctx, msgs)
		if err == nil {
			return out, nil
		}
	}
	return NewTruncateCompressor(0).Compress(ctx, msgs)
}

func (a *AdaptiveCompressor) Name() string { return StrategyAdaptive }
