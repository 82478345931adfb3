package checkpoint

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func setupRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, "test:", zap.NewNop())
}

func allStores(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	gormStore, err := NewGormStore(filepath.Join(t.TempDir(), "ckpt.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { gormStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"gorm":   gormStore,
		"redis":  setupRedisStore(t),
	}
}

func save(t *testing.T, s Store, loopID, payload string) uint64 {
	t.Helper()
	id, err := s.Save(context.Background(), &Checkpoint{
		LoopID: loopID,
		State:  json.RawMessage(`{"step":"` + payload + `"}`),
	})
	require.NoError(t, err)
	return id
}

func TestStoreConformance(t *testing.T) {
	for name, store := range allStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			// IDs are monotonic per loop and independent across loops
			assert.Equal(t, uint64(1), save(t, store, "loop-a", "one"))
			assert.Equal(t, uint64(2), save(t, store, "loop-a", "two"))
			assert.Equal(t, uint64(1), save(t, store, "loop-b", "other"))
			assert.Equal(t, uint64(3), save(t, store, "loop-a", "three"))

			// Load returns the latest
			latest, err := store.Load(ctx, "loop-a")
			require.NoError(t, err)
			assert.Equal(t, uint64(3), latest.ID)
			assert.JSONEq(t, `{"step":"three"}`, string(latest.State))
			assert.False(t, latest.CreatedAt.IsZero())

			// earlier checkpoints stay readable (append-only)
			first, err := store.LoadAt(ctx, "loop-a", 1)
			require.NoError(t, err)
			assert.JSONEq(t, `{"step":"one"}`, string(first.State))

			_, err = store.LoadAt(ctx, "loop-a", 99)
			assert.ErrorIs(t, err, ErrNotFound)

			// List is ascending
			list, err := store.List(ctx, "loop-a")
			require.NoError(t, err)
			require.Len(t, list, 3)
			for i, cp := range list {
				assert.Equal(t, uint64(i+1), cp.ID)
			}

			loops, err := store.Loops(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"loop-a", "loop-b"}, loops)

			require.NoError(t, store.Delete(ctx, "loop-a"))
			_, err = store.Load(ctx, "loop-a")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = store.Load(ctx, "loop-b")
			assert.NoError(t, err)
		})
	}
}

func TestStoreRejectsEmptyLoopID(t *testing.T) {
	for name, store := range allStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Save(context.Background(), &Checkpoint{})
			var we *WriteError
			assert.ErrorAs(t, err, &we)
		})
	}
}

func TestFileStoreRecoversCounterAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	save(t, s1, "loop-a", "one")
	save(t, s1, "loop-a", "two")

	// a fresh store over the same directory must continue the sequence
	s2, err := NewFileStore(dir, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), save(t, s2, "loop-a", "three"))

	latest, err := s2.Load(context.Background(), "loop-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), latest.ID)
}

// Arbitrary interleavings of saves across loops must produce strictly
// increasing IDs per loop, with List reporting them in ascending order.
func TestSaveSequencesStayMonotonic(t *testing.T) {
	loops := []string{"loop-a", "loop-b", "loop-c"}
	rapid.Check(t, func(t *rapid.T) {
		store := NewMemoryStore()
		last := make(map[string]uint64)

		n := rapid.IntRange(1, 50).Draw(t, "n")
		for i := 0; i < n; i++ {
			loopID := loops[rapid.IntRange(0, len(loops)-1).Draw(t, "loop")]
			id, err := store.Save(context.Background(), &Checkpoint{
				LoopID: loopID,
				State:  json.RawMessage(`{}`),
			})
			if err != nil {
				t.Fatalf("save: %v", err)
			}
			if id != last[loopID]+1 {
				t.Fatalf("loop %s: id %d after %d", loopID, id, last[loopID])
			}
			last[loopID] = id
		}

		for loopID, count := range last {
			list, err := store.List(context.Background(), loopID)
			if err != nil {
				t.Fatalf("list %s: %v", loopID, err)
			}
			if uint64(len(list)) != count {
				t.Fatalf("loop %s: %d checkpoints listed, want %d", loopID, len(list), count)
			}
			for i := 1; i < len(list); i++ {
				if list[i].ID <= list[i-1].ID {
					t.Fatalf("loop %s: ids not strictly increasing at %d", loopID, i)
				}
			}
		}
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	save(t, s, "loop-a", "one")

	cp, err := s.Load(context.Background(), "loop-a")
	require.NoError(t, err)
	cp.State[2] = 'X'

	again, err := s.Load(context.Background(), "loop-a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"one"}`, string(again.State))
}
