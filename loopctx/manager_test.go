package loopctx

import (
	stdctx "context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/types"
)

func testConfig() Config {
	return Config{
		MaxTokens:            200,
		CompressionThreshold: 0.5,
		EnableCompression:    true,
		KeepRecent:           3,
	}
}

func fill(m *Manager, n int) {
	for i := 0; i < n; i++ {
		m.AddMessage(types.NewUserMessage(strings.Repeat("word ", 20)))
	}
}

func TestAddMessageAccounting(t *testing.T) {
	m := New(testConfig(), nil, nil, zap.NewNop())

	if m.TotalTokens() != 0 {
		t.Fatal("fresh manager should have zero tokens")
	}
	m.AddMessage(types.NewUserMessage("hello there"))
	first := m.TotalTokens()
	if first <= 0 {
		t.Fatal("token total should grow after adding a message")
	}
	m.AddMessage(types.NewAssistantMessage("hi"))
	if m.TotalTokens() <= first {
		t.Fatal("token total should be monotone while adding")
	}
}

func TestCompressPreservesSystemAndRecent(t *testing.T) {
	m := New(testConfig(), nil, nil, zap.NewNop())
	m.AddMessage(types.NewSystemMessage("you are a careful assistant"))
	fill(m, 12)
	m.AddMessage(types.NewUserMessage("latest question"))

	if !m.ShouldCompress() {
		t.Fatal("usage should exceed threshold")
	}
	before := m.TotalTokens()
	if err := m.Compress(stdctx.Background()); err != nil {
		t.Fatalf("compress: %v", err)
	}
	after := m.TotalTokens()
	if after >= before {
		t.Fatalf("compression must shrink tokens: before=%d after=%d", before, after)
	}

	msgs := m.Messages()
	if !msgs[0].IsSystem() {
		t.Error("system message should survive compression first")
	}
	last := msgs[len(msgs)-1]
	if last.Content != "latest question" {
		t.Errorf("most recent message should be verbatim, got %q", last.Content)
	}
	if m.Statistics().CompressionCount != 1 {
		t.Errorf("compression count: got %d, want 1", m.Statistics().CompressionCount)
	}
}

func TestCompressNoopBelowThreshold(t *testing.T) {
	m := New(testConfig(), nil, nil, zap.NewNop())
	m.AddMessage(types.NewUserMessage("short"))

	before := m.Snapshot()
	if err := m.Compress(stdctx.Background()); err != nil {
		t.Fatalf("compress below threshold: %v", err)
	}
	after := m.Snapshot()
	if len(after.Messages) != len(before.Messages) || after.CompressionCount != 0 {
		t.Error("compression below threshold must be a no-op")
	}
}

type failingCompressor struct{}

func (failingCompressor) Compress(stdctx.Context, []types.Message) ([]types.Message, error) {
	return nil, errors.New("model unavailable")
}
func (failingCompressor) Name() string { return "failing" }

func TestCompressFailureLeavesStateIntact(t *testing.T) {
	m := New(testConfig(), nil, failingCompressor{}, zap.NewNop())
	fill(m, 15)

	before := m.Snapshot()
	err := m.Compress(stdctx.Background())
	if err == nil {
		t.Fatal("expected compression failure")
	}
	if types.GetErrorCode(err) != types.ErrCodeCompressionFailed {
		t.Errorf("code: got %s, want %s", types.GetErrorCode(err), types.ErrCodeCompressionFailed)
	}
	if !types.IsRetryable(err) {
		t.Error("compression failure should be recoverable")
	}

	after := m.Snapshot()
	if len(after.Messages) != len(before.Messages) || after.TotalTokens != before.TotalTokens {
		t.Error("failed compression must not mutate history")
	}
}

func TestAdaptiveFallsBackToTruncate(t *testing.T) {
	c := &AdaptiveCompressor{Summarizer: summarizerFunc(func(stdctx.Context, []types.Message) (string, error) {
		return "", errors.New("llm down")
	})}
	out, err := c.Compress(stdctx.Background(), []types.Message{
		types.NewUserMessage("a"), types.NewAssistantMessage("b"),
	})
	if err != nil {
		t.Fatalf("adaptive should fall back, got %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("fallback digest: got %d messages, want 1", len(out))
	}
	if !strings.Contains(out[0].Content, "compressed 2") {
		t.Errorf("digest content: %q", out[0].Content)
	}
}

func TestTruncateClipsOnRuneBoundary(t *testing.T) {
	c := NewTruncateCompressor(5)
	out, err := c.Compress(stdctx.Background(), []types.Message{
		types.NewUserMessage(strings.Repeat("界", 10)),
	})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if !utf8.ValidString(out[0].Content) {
		t.Errorf("digest is not valid UTF-8: %q", out[0].Content)
	}
	// 5 bytes lands mid-rune; the clip backs up to the previous boundary
	if !strings.Contains(out[0].Content, "界...") {
		t.Errorf("digest content: %q", out[0].Content)
	}
	if strings.Contains(out[0].Content, "界界...") {
		t.Errorf("clip kept too many bytes: %q", out[0].Content)
	}
}

type summarizerFunc func(stdctx.Context, []types.Message) (string, error)

func (f summarizerFunc) Summarize(ctx stdctx.Context, msgs []types.Message) (string, error) {
	return f(ctx, msgs)
}

func TestSummarizeCompressor(t *testing.T) {
	c := &SummarizeCompressor{Summarizer: summarizerFunc(func(stdctx.Context, []types.Message) (string, error) {
		return "they discussed the plan", nil
	})}
	out, err := c.Compress(stdctx.Background(), []types.Message{types.NewUserMessage("x")})
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if !strings.Contains(out[0].Content, "they discussed the plan") {
		t.Errorf("summary content: %q", out[0].Content)
	}
}

func TestBeginRound(t *testing.T) {
	m := New(testConfig(), nil, nil, zap.NewNop())
	if got := m.BeginRound(); got != 1 {
		t.Errorf("first round: got %d, want 1", got)
	}
	if got := m.BeginRound(); got != 2 {
		t.Errorf("second round: got %d, want 2", got)
	}
}
