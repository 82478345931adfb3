package loop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/loopctx"
	"github.com/BaSui01/agentloop/types"
)

// CheckpointSink receives a consistent (state, context) pair at every
// iteration boundary. Implementations persist it atomically.
type CheckpointSink interface {
	Save(ctx context.Context, st *State, snap loopctx.Snapshot) (uint64, error)
}

// Observer receives run telemetry from an orchestrator.
type Observer interface {
	RecordIteration(loop string)
	RecordRun(loop string, status Status, d time.Duration)
	RecordContextTokens(loop string, tokens int)
	RecordCheckpointSave(loop string, err error, d time.Duration)
}

// Statistics accumulates across runs of one orchestrator.
type Statistics struct {
	TotalRuns       int `json:"total_runs"`
	SuccessfulRuns  int `json:"successful_runs"`
	FailedRuns      int `json:"failed_runs"`
	TotalIterations int `json:"total_iterations"`
}

// Orchestrator drives a loop through its module pipeline until a stop
// signal, a failure, or the iteration ceiling. One orchestrator owns
// one run at a time.
type Orchestrator struct {
	cfg      *Config
	registry *capability.Registry
	ctxmgr   *loopctx.Manager
	logger   *zap.Logger

	modules  map[ModuleName]Module
	sink     CheckpointSink
	observer Observer

	mu     sync.Mutex
	state  *State
	cancel context.CancelFunc
	stats  Statistics
}

// OrchestratorOption customizes an orchestrator at construction.
type OrchestratorOption func(*Orchestrator)

// WithCheckpointSink persists state at every iteration boundary.
func WithCheckpointSink(sink CheckpointSink) OrchestratorOption {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithLoopObserver attaches run telemetry.
func WithLoopObserver(obs Observer) OrchestratorOption {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithState resumes an orchestrator from a previously checkpointed
// state instead of starting fresh.
func WithState(st *State) OrchestratorOption {
	return func(o *Orchestrator) { o.state = st }
}

// NewOrchestrator builds an orchestrator for a resolved configuration.
// Every capability the configuration names must already be registered;
// a missing one fails construction rather than the Nth iteration.
func NewOrchestrator(cfg *Config, registry *capability.Registry, ctxmgr *loopctx.Manager, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrCodeConfiguration, "orchestrator needs a config")
	}
	if registry == nil {
		return nil, types.NewError(types.ErrCodeConfiguration, "orchestrator needs a capability registry")
	}
	if ctxmgr == nil {
		return nil, types.NewError(types.ErrCodeConfiguration, "orchestrator needs a context manager")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, name := range cfg.Capabilities() {
		if !registry.Has(name) {
			return nil, fmt.Errorf("loop %s: %w: %s", cfg.Name(), capability.ErrNotFound, name)
		}
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		ctxmgr:   ctxmgr,
		logger:   logger.With(zap.String("component", "loop_orchestrator"), zap.String("loop", cfg.Name())),
		modules:  make(map[ModuleName]Module),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.state == nil {
		o.state = NewState(cfg.Name())
	}
	return o, nil
}

// RegisterModule installs the implementation for a pipeline stage.
// Registering the same stage twice replaces the earlier module.
func (o *Orchestrator) RegisterModule(m Module) error {
	if m == nil {
		return types.NewError(types.ErrCodeConfiguration, "module is nil")
	}
	if !knownModule(m.Name()) {
		return types.NewErrorf(types.ErrCodeConfiguration, "unknown module %q", m.Name())
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modules[m.Name()] = m
	return nil
}

// State returns the current run state.
func (o *Orchestrator) State() *State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Statistics returns accumulated run statistics.
func (o *Orchestrator) Statistics() Statistics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Stop requests cancellation. The loop observes it at the next
// iteration boundary and returns without persisting a partial step.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Run executes the loop until a terminal status. For a pending state it
// starts a fresh run seeded with the task; for a running state (resume)
// it continues at the recorded module boundary. The returned state is
// also retained by the orchestrator.
func (o *Orchestrator) Run(ctx context.Context, task any) (*State, error) {
	o.mu.Lock()
	s := o.state
	if s.Status.Terminal() {
		o.mu.Unlock()
		return s, types.NewErrorf(types.ErrCodeConfiguration, "loop %s already finished with status %s", s.LoopID, s.Status)
	}
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.stats.TotalRuns++
	o.mu.Unlock()
	defer cancel()

	start := time.Now()
	if s.Status == StatusPending {
		o.begin(s, task)
	}
	s.Status = StatusRunning
	s.touch()

	err := o.runLoop(ctx, s)

	o.mu.Lock()
	o.stats.TotalIterations += s.Iteration
	if s.Status == StatusCompleted {
		o.stats.SuccessfulRuns++
	} else if s.Status == StatusFailed {
		o.stats.FailedRuns++
	}
	o.mu.Unlock()

	if o.observer != nil {
		o.observer.RecordRun(s.LoopID, s.Status, time.Since(start))
	}
	o.logger.Info("loop finished",
		zap.String("status", string(s.Status)),
		zap.Int("iterations", s.Iteration),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))
	return s, err
}

// begin seeds a fresh run: system prompt, task message, first module.
func (o *Orchestrator) begin(s *State, task any) {
	s.Task = task
	s.StartedAt = time.Now().UTC()
	if prompt := o.cfg.SystemPrompt(); prompt != "" {
		o.ctxmgr.AddMessage(types.NewSystemMessage(prompt))
	}
	if text, ok := task.(string); ok && text != "" {
		o.ctxmgr.AddMessage(types.NewUserMessage(text))
	}
	enabled := o.cfg.EnabledModules()
	if len(enabled) > 0 {
		s.NextModule = enabled[0]
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, s *State) error {
	for {
		if err := ctx.Err(); err != nil {
			// cancellation takes effect here; state stays resumable
			return err
		}
		if s.Iteration >= o.cfg.MaxIterations() {
			s.Status = StatusMaxIterations
			s.touch()
			o.logger.Warn("iteration ceiling reached", zap.Int("max_iterations", o.cfg.MaxIterations()))
			o.checkpointFinal(ctx, s)
			return nil
		}

		done, err := o.runIteration(ctx, s)
		if err != nil || done {
			return err
		}
	}
}

// runIteration executes one pass over the enabled modules starting at
// the recorded boundary. done reports a terminal status.
func (o *Orchestrator) runIteration(ctx context.Context, s *State) (bool, error) {
	round := o.ctxmgr.BeginRound()
	enabled := o.cfg.EnabledModules()
	o.logger.Debug("iteration started",
		zap.Int("iteration", s.Iteration),
		zap.Int("round", round))

	for _, name := range enabled[o.startIndex(enabled, s.NextModule):] {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		s.NextModule = name

		signal, err := o.step(ctx, s, name)
		if err != nil {
			s.Status = StatusFailed
			s.FailedModule = name
			s.FailureReason = err.Error()
			s.touch()
			o.checkpointFinal(ctx, s)
			return true, types.NewErrorf(types.ErrCodeLoopFailed,
				"loop %s iteration %d module %s", s.LoopID, s.Iteration, name).WithCause(err)
		}

		switch signal {
		case SignalStop:
			s.ShouldStop = true
			s.Status = StatusCompleted
			s.touch()
			if err := o.checkpoint(ctx, s); err != nil {
				return true, err
			}
			return true, nil
		case SignalFail:
			s.Status = StatusFailed
			s.FailedModule = name
			if s.FailureReason == "" {
				s.FailureReason = fmt.Sprintf("module %s signaled failure", name)
			}
			s.touch()
			o.checkpointFinal(ctx, s)
			return true, types.NewErrorf(types.ErrCodeLoopFailed,
				"loop %s iteration %d module %s signaled failure", s.LoopID, s.Iteration, name)
		case SignalReplan:
			s.ShouldReplan = true
		}
	}

	// iteration boundary
	s.Iteration++
	if o.observer != nil {
		o.observer.RecordIteration(s.LoopID)
		o.observer.RecordContextTokens(s.LoopID, o.ctxmgr.TotalTokens())
	}

	if compErr := o.ctxmgr.Compress(ctx); compErr != nil {
		// compression failures are recoverable: keep looping uncompressed
		o.logger.Warn("context compression failed, continuing", zap.Error(compErr))
	}

	if s.ShouldReplan && o.cfg.IsModuleEnabled(ModulePlanning) {
		s.NextModule = ModulePlanning
		s.RetryCount++
	} else if o.cfg.IsModuleEnabled(ModuleExecution) {
		s.NextModule = ModuleExecution
	} else {
		s.NextModule = enabled[0]
	}
	s.ResetSignals()
	s.touch()

	if err := o.checkpoint(ctx, s); err != nil {
		return true, err
	}
	return false, nil
}

func (o *Orchestrator) step(ctx context.Context, s *State, name ModuleName) (Signal, error) {
	o.mu.Lock()
	m, ok := o.modules[name]
	o.mu.Unlock()
	if !ok {
		return SignalFail, types.NewErrorf(types.ErrCodeConfiguration,
			"module %s is enabled but not registered", name)
	}

	stepCtx := ctx
	if d := o.cfg.StepTimeout(); d > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	rt := &Runtime{
		Config:   o.cfg,
		State:    s,
		Context:  o.ctxmgr,
		Registry: o.registry,
		Logger:   o.logger.With(zap.String("module", string(name))),
	}
	if o.sink != nil {
		rt.Checkpoint = func(cctx context.Context) error {
			return o.checkpoint(cctx, s)
		}
	}
	signal, err := m.Step(stepCtx, rt)
	if err != nil {
		return signal, err
	}
	o.logger.Debug("module step done",
		zap.String("module", string(name)),
		zap.Stringer("signal", signal))
	return signal, nil
}

func (o *Orchestrator) startIndex(enabled []ModuleName, next ModuleName) int {
	for i, name := range enabled {
		if name == next {
			return i
		}
	}
	return 0
}

// checkpoint persists the iteration boundary. A write failure is fatal
// for this attempt; the caller may retry the run later.
func (o *Orchestrator) checkpoint(ctx context.Context, s *State) error {
	if o.sink == nil {
		return nil
	}
	start := time.Now()
	id, err := o.sink.Save(ctx, s, o.ctxmgr.Snapshot())
	if o.observer != nil {
		o.observer.RecordCheckpointSave(s.LoopID, err, time.Since(start))
	}
	if err != nil {
		return types.NewErrorf(types.ErrCodeCheckpointWrite, "loop %s", s.LoopID).
			WithCause(err).WithRetryable(true)
	}
	s.LastCheckpointID = id
	return nil
}

// checkpointFinal persists a terminal state best-effort: the terminal
// status is already decided and must be reported even if the write fails.
func (o *Orchestrator) checkpointFinal(ctx context.Context, s *State) {
	if err := o.checkpoint(ctx, s); err != nil {
		o.logger.Error("final checkpoint failed", zap.Error(err))
	}
}
