package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. Intended for tests
// and single-process runs without durability requirements.
type MemoryStore struct {
	mu    sync.RWMutex
	loops map[string][]*Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{loops: make(map[string][]*Checkpoint)}
}

func (s *MemoryStore) Save(_ context.Context, cp *Checkpoint) (uint64, error) {
	if cp == nil || cp.LoopID == "" {
		return 0, &WriteError{LoopID: "", Err: fmt.Errorf("checkpoint has no loop id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.loops[cp.LoopID]
	next := uint64(1)
	if len(seq) > 0 {
		next = seq[len(seq)-1].ID + 1
	}

	stored := cloneCheckpoint(cp)
	stored.ID = next
	stored.CreatedAt = time.Now().UTC()
	s.loops[cp.LoopID] = append(seq, stored)
	return next, nil
}

func (s *MemoryStore) Load(_ context.Context, loopID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.loops[loopID]
	if len(seq) == 0 {
		return nil, fmt.Errorf("%w: loop %s", ErrNotFound, loopID)
	}
	return cloneCheckpoint(seq[len(seq)-1]), nil
}

func (s *MemoryStore) LoadAt(_ context.Context, loopID string, id uint64) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cp := range s.loops[loopID] {
		if cp.ID == id {
			return cloneCheckpoint(cp), nil
		}
	}
	return nil, fmt.Errorf("%w: loop %s checkpoint %d", ErrNotFound, loopID, id)
}

func (s *MemoryStore) List(_ context.Context, loopID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.loops[loopID]
	out := make([]*Checkpoint, len(seq))
	for i, cp := range seq {
		out[i] = cloneCheckpoint(cp)
	}
	return out, nil
}

func (s *MemoryStore) Loops(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.loops))
	for id := range s.loops {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, loopID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.loops, loopID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
