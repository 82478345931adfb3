package loop

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle phase of a loop run.
type Status string

const (
	StatusPending       Status = "pending"
	StatusRunning       Status = "running"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusMaxIterations Status = "max_iterations_reached"
)

// Terminal reports whether the status ends the run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusMaxIterations:
		return true
	}
	return false
}

// State is the mutable execution state of a loop run. It serializes
// losslessly to JSON for checkpointing; restoring the JSON reproduces
// the run at the recorded module boundary.
type State struct {
	LoopID    string `json:"loop_id"`
	Iteration int    `json:"iteration"`
	Status    Status `json:"status"`

	// NextModule is the stage the next step resumes at.
	NextModule ModuleName `json:"next_module,omitempty"`

	Task   any `json:"task,omitempty"`
	Plan   any `json:"plan,omitempty"`
	Result any `json:"result,omitempty"`

	// control signals, reset at each iteration boundary
	ShouldReplan bool `json:"should_replan,omitempty"`
	ShouldStop   bool `json:"should_stop,omitempty"`
	RetryCount   int  `json:"retry_count,omitempty"`

	// failure coordinates when Status is failed
	FailedModule  ModuleName `json:"failed_module,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`

	LastCheckpointID uint64    `json:"last_checkpoint_id,omitempty"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at,omitempty"`
}

// NewState creates a pending state for a loop run.
func NewState(loopID string) *State {
	return &State{
		LoopID:    loopID,
		Status:    StatusPending,
		UpdatedAt: time.Now().UTC(),
	}
}

// ResetSignals clears the per-iteration control signals.
func (s *State) ResetSignals() {
	s.ShouldReplan = false
	s.ShouldStop = false
}

func (s *State) touch() {
	s.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy via JSON, matching checkpoint semantics.
func (s *State) Clone() (*State, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out State
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary is a compact view of the state for logs and listings.
type Summary struct {
	LoopID     string     `json:"loop_id"`
	Status     Status     `json:"status"`
	Iteration  int        `json:"iteration"`
	NextModule ModuleName `json:"next_module,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Summarize returns the state's summary view.
func (s *State) Summarize() Summary {
	return Summary{
		LoopID:     s.LoopID,
		Status:     s.Status,
		Iteration:  s.Iteration,
		NextModule: s.NextModule,
		UpdatedAt:  s.UpdatedAt,
	}
}
