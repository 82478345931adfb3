package loopctx

import (
	"encoding/json"
	"reflect"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentloop/types"
)

var roles = []types.Role{types.RoleSystem, types.RoleUser, types.RoleAssistant, types.RoleTool}

// Snapshot -> FromSnapshot -> Snapshot must reproduce the observable
// state exactly, including through a JSON round trip.
func TestSnapshotRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{
			MaxTokens:            rapid.IntRange(100, 100000).Draw(t, "maxTokens"),
			CompressionThreshold: rapid.Float64Range(0.1, 1.0).Draw(t, "threshold"),
			EnableCompression:    rapid.Bool().Draw(t, "enabled"),
			KeepRecent:           rapid.IntRange(1, 20).Draw(t, "keepRecent"),
		}
		m := New(cfg, nil, nil, zap.NewNop())

		n := rapid.IntRange(0, 30).Draw(t, "n")
		for i := 0; i < n; i++ {
			role := roles[rapid.IntRange(0, len(roles)-1).Draw(t, "role")]
			content := rapid.StringN(0, 200, -1).Draw(t, "content")
			m.AddMessage(types.NewMessage(role, content))
		}
		rounds := rapid.IntRange(0, 5).Draw(t, "rounds")
		for i := 0; i < rounds; i++ {
			m.BeginRound()
		}

		snap := m.Snapshot()

		data, err := json.Marshal(snap)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Snapshot
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		restored := FromSnapshot(cfg, decoded, nil, nil, zap.NewNop())
		again := restored.Snapshot()

		if again.CurrentRound != snap.CurrentRound {
			t.Fatalf("round: got %d, want %d", again.CurrentRound, snap.CurrentRound)
		}
		if again.CompressionCount != snap.CompressionCount {
			t.Fatalf("compressions: got %d, want %d", again.CompressionCount, snap.CompressionCount)
		}
		if again.TotalTokens != snap.TotalTokens {
			t.Fatalf("tokens: got %d, want %d", again.TotalTokens, snap.TotalTokens)
		}
		if len(again.Messages) != len(snap.Messages) {
			t.Fatalf("messages: got %d, want %d", len(again.Messages), len(snap.Messages))
		}
		for i := range snap.Messages {
			if again.Messages[i].Role != snap.Messages[i].Role ||
				again.Messages[i].Content != snap.Messages[i].Content {
				t.Fatalf("message %d diverged", i)
			}
		}
	})
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	m := New(testConfig(), nil, nil, zap.NewNop())
	m.AddMessage(types.NewUserMessage("original").WithMetadata("k", "v"))

	snap := m.Snapshot()
	snap.Messages[0].Metadata["k"] = "mutated"

	if got := m.Messages()[0].Metadata["k"]; !reflect.DeepEqual(got, "v") {
		t.Errorf("snapshot mutation leaked into manager: %v", got)
	}
}
