// Package loopctx manages a loop's conversation context under a token
// budget: message history, token accounting, threshold-driven
// compression, and exact snapshot round-trips for checkpointing.
package loopctx

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/types"
)

// Config bounds a context manager.
type Config struct {
	// MaxTokens is the hard budget for the whole history.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// CompressionThreshold in (0,1]: compression triggers when usage
	// exceeds this fraction of MaxTokens.
	CompressionThreshold float64 `json:"compression_threshold" yaml:"compression_threshold"`
	// EnableCompression turns automatic compression on.
	EnableCompression bool `json:"enable_compression" yaml:"enable_compression"`
	// KeepRecent messages stay verbatim through every compression.
	KeepRecent int `json:"keep_recent" yaml:"keep_recent"`
}

// DefaultConfig returns the standard context budget.
func DefaultConfig() Config {
	return Config{
		MaxTokens:            100000,
		CompressionThreshold: 0.8,
		EnableCompression:    true,
		KeepRecent:           10,
	}
}

// Snapshot is the serializable state of a Manager. Restoring a
// snapshot reproduces the manager's observable state exactly.
type Snapshot struct {
	Messages         []types.Message `json:"messages"`
	CurrentRound     int             `json:"current_round"`
	TotalTokens      int             `json:"total_tokens"`
	CompressionCount int             `json:"compression_count"`
}

// Stats is a point-in-time view of a manager's accounting.
type Stats struct {
	MessageCount     int     `json:"message_count"`
	TotalTokens      int     `json:"total_tokens"`
	MaxTokens        int     `json:"max_tokens"`
	Usage            float64 `json:"usage"`
	CurrentRound     int     `json:"current_round"`
	CompressionCount int     `json:"compression_count"`
}

// Manager owns a conversation history and its token accounting. All
// methods are safe for concurrent use.
type Manager struct {
	mu sync.Mutex

	cfg        Config
	counter    types.TokenCounter
	compressor Compressor
	logger     *zap.Logger

	messages         []types.Message
	currentRound     int
	totalTokens      int
	compressionCount int
}

// New creates a context manager. A nil counter selects the length
// estimator; a nil compressor selects truncation.
func New(cfg Config, counter types.TokenCounter, compressor Compressor, logger *zap.Logger) *Manager {
	if counter == nil {
		counter = types.NewEstimateCounter()
	}
	if compressor == nil {
		compressor = NewTruncateCompressor(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = DefaultConfig().KeepRecent
	}
	return &Manager{
		cfg:        cfg,
		counter:    counter,
		compressor: compressor,
		logger:     logger.With(zap.String("component", "context_manager")),
	}
}

// FromSnapshot restores a manager from a checkpoint snapshot. Token
// totals are recomputed with the given counter so a counter change
// between runs cannot desynchronize the accounting.
func FromSnapshot(cfg Config, snap Snapshot, counter types.TokenCounter, compressor Compressor, logger *zap.Logger) *Manager {
	m := New(cfg, counter, compressor, logger)
	m.messages = types.CloneMessages(snap.Messages)
	m.currentRound = snap.CurrentRound
	m.compressionCount = snap.CompressionCount
	m.totalTokens = m.counter.CountMessagesTokens(m.messages)
	return m
}

// AddMessage appends a message and updates the token total.
func (m *Manager) AddMessage(msg types.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	m.totalTokens += m.counter.CountMessageTokens(msg)
}

// Messages returns a copy of the history.
func (m *Manager) Messages() []types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return types.CloneMessages(m.messages)
}

// TotalTokens returns the current token total.
func (m *Manager) TotalTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalTokens
}

// BeginRound advances the round counter at the start of an iteration.
func (m *Manager) BeginRound() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentRound++
	return m.currentRound
}

// ShouldCompress reports whether usage exceeds the configured threshold.
func (m *Manager) ShouldCompress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shouldCompressLocked()
}

func (m *Manager) shouldCompressLocked() bool {
	if !m.cfg.EnableCompression || m.cfg.MaxTokens <= 0 {
		return false
	}
	return float64(m.totalTokens) > m.cfg.CompressionThreshold*float64(m.cfg.MaxTokens)
}

// Compress condenses old history while preserving all system messages
// and the most recent KeepRecent messages verbatim. Below the
// threshold it is a no-op. On failure the history is left untouched
// and a recoverable compression error is returned.
func (m *Manager) Compress(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shouldCompressLocked() {
		return nil
	}

	system, other := splitSystem(m.messages)
	if len(other) <= m.cfg.KeepRecent {
		return nil
	}
	cut := len(other) - m.cfg.KeepRecent
	window := other[:cut]
	recent := other[cut:]

	compressed, err := m.compressor.Compress(ctx, window)
	if err != nil {
		m.logger.Warn("context compression failed",
			zap.String("strategy", m.compressor.Name()),
			zap.Int("window", len(window)),
			zap.Error(err))
		return types.NewErrorf(types.ErrCodeCompressionFailed, "strategy %s", m.compressor.Name()).
			WithCause(err).WithRetryable(true)
	}

	next := make([]types.Message, 0, len(system)+len(compressed)+len(recent))
	next = append(next, system...)
	next = append(next, compressed...)
	next = append(next, recent...)

	newTotal := m.counter.CountMessagesTokens(next)
	if newTotal >= m.totalTokens {
		// a compression that does not shrink the history is a failure
		return types.NewErrorf(types.ErrCodeCompressionFailed,
			"strategy %s produced %d tokens from %d", m.compressor.Name(), newTotal, m.totalTokens).
			WithRetryable(true)
	}

	m.logger.Info("context compressed",
		zap.String("strategy", m.compressor.Name()),
		zap.Int("messages_before", len(m.messages)),
		zap.Int("messages_after", len(next)),
		zap.Int("tokens_before", m.totalTokens),
		zap.Int("tokens_after", newTotal))

	m.messages = next
	m.totalTokens = newTotal
	m.compressionCount++
	return nil
}

// Snapshot captures the manager's state for checkpointing.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Messages:         types.CloneMessages(m.messages),
		CurrentRound:     m.currentRound,
		TotalTokens:      m.totalTokens,
		CompressionCount: m.compressionCount,
	}
}

// Statistics returns current accounting figures.
func (m *Manager) Statistics() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	usage := 0.0
	if m.cfg.MaxTokens > 0 {
		usage = float64(m.totalTokens) / float64(m.cfg.MaxTokens)
	}
	return Stats{
		MessageCount:     len(m.messages),
		TotalTokens:      m.totalTokens,
		MaxTokens:        m.cfg.MaxTokens,
		Usage:            usage,
		CurrentRound:     m.currentRound,
		CompressionCount: m.compressionCount,
	}
}

// splitSystem separates system messages (preserved through compression)
// from the rest, keeping relative order in both halves.
func splitSystem(msgs []types.Message) (system, other []types.Message) {
	for _, m := range msgs {
		if m.IsSystem() {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}
	return system, other
}
