// Package checkpoint persists loop state as an append-only sequence of
// checkpoints per loop. Backends assign checkpoint IDs that increase
// strictly monotonically within a loop and never overwrite earlier
// entries.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a loop has no checkpoint, or a specific
// checkpoint ID does not exist.
var ErrNotFound = errors.New("checkpoint not found")

// WriteError reports a failed checkpoint write. Writes are fatal for
// the attempt but callers may retry the whole save.
type WriteError struct {
	LoopID string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write checkpoint for loop %s: %v", e.LoopID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Checkpoint is one persisted point of a loop's execution. State and
// Context are opaque JSON documents owned by the loop layer.
type Checkpoint struct {
	LoopID    string          `json:"loop_id"`
	ID        uint64          `json:"checkpoint_id"`
	CreatedAt time.Time       `json:"created_at"`
	State     json.RawMessage `json:"state"`
	Context   json.RawMessage `json:"context,omitempty"`
}

// Store is the persistence contract. Save assigns and returns the next
// checkpoint ID for the loop; Load returns the latest checkpoint.
// Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) (uint64, error)
	Load(ctx context.Context, loopID string) (*Checkpoint, error)
	LoadAt(ctx context.Context, loopID string, id uint64) (*Checkpoint, error)
	List(ctx context.Context, loopID string) ([]*Checkpoint, error)
	Loops(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, loopID string) error
	Close() error
}

func nowUTC() time.Time { return time.Now().UTC() }

func cloneCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.State = append(json.RawMessage(nil), cp.State...)
	out.Context = append(json.RawMessage(nil), cp.Context...)
	return &out
}
