package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileStore persists checkpoints as JSON files under
// baseDir/<loop_id>/<checkpoint_id>.json. IDs are zero-padded so
// lexical file order matches numeric order, and every write goes
// through a temp file plus rename.
type FileStore struct {
	mu      sync.Mutex
	baseDir string
	logger  *zap.Logger
	// next id per loop, lazily recovered from disk
	counters map[string]uint64
}

// NewFileStore creates the base directory if needed and opens a store.
func NewFileStore(baseDir string, logger *zap.Logger) (*FileStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{
		baseDir:  baseDir,
		logger:   logger.With(zap.String("component", "file_checkpoint_store")),
		counters: make(map[string]uint64),
	}, nil
}

func (s *FileStore) loopDir(loopID string) string {
	return filepath.Join(s.baseDir, loopID)
}

func (s *FileStore) path(loopID string, id uint64) string {
	return filepath.Join(s.loopDir(loopID), fmt.Sprintf("%020d.json", id))
}

// lastIDLocked recovers the highest checkpoint ID on disk for a loop.
func (s *FileStore) lastIDLocked(loopID string) (uint64, error) {
	if n, ok := s.counters[loopID]; ok {
		return n, nil
	}
	entries, err := os.ReadDir(s.loopDir(loopID))
	if os.IsNotExist(err) {
		s.counters[loopID] = 0
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".json")
		n, err := strconv.ParseUint(name, 10, 64)
		if err != nil {
			continue
		}
		if n > last {
			last = n
		}
	}
	s.counters[loopID] = last
	return last, nil
}

func (s *FileStore) Save(_ context.Context, cp *Checkpoint) (uint64, error) {
	if cp == nil || cp.LoopID == "" {
		return 0, &WriteError{Err: fmt.Errorf("checkpoint has no loop id")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, err := s.lastIDLocked(cp.LoopID)
	if err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}
	next := last + 1

	stored := cloneCheckpoint(cp)
	stored.ID = next
	stored.CreatedAt = nowUTC()

	if err := os.MkdirAll(s.loopDir(cp.LoopID), 0o755); err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}

	// atomic write: temp file then rename
	final := s.path(cp.LoopID, next)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return 0, &WriteError{LoopID: cp.LoopID, Err: err}
	}

	s.counters[cp.LoopID] = next
	s.logger.Debug("checkpoint saved",
		zap.String("loop_id", cp.LoopID),
		zap.Uint64("checkpoint_id", next))
	return next, nil
}

func (s *FileStore) Load(ctx context.Context, loopID string) (*Checkpoint, error) {
	s.mu.Lock()
	last, err := s.lastIDLocked(loopID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if last == 0 {
		return nil, fmt.Errorf("%w: loop %s", ErrNotFound, loopID)
	}
	return s.LoadAt(ctx, loopID, last)
}

func (s *FileStore) LoadAt(_ context.Context, loopID string, id uint64) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(loopID, id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: loop %s checkpoint %d", ErrNotFound, loopID, id)
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %d for loop %s: %w", id, loopID, err)
	}
	return &cp, nil
}

func (s *FileStore) List(ctx context.Context, loopID string) ([]*Checkpoint, error) {
	entries, err := os.ReadDir(s.loopDir(loopID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []*Checkpoint
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".json"), 10, 64)
		if err != nil {
			continue
		}
		cp, err := s.LoadAt(ctx, loopID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) Loops(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) Delete(_ context.Context, loopID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counters, loopID)
	return os.RemoveAll(s.loopDir(loopID))
}

func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
