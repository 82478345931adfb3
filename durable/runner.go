package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/checkpoint"
	"github.com/BaSui01/agentloop/loop"
	"github.com/BaSui01/agentloop/loopctx"
	"github.com/BaSui01/agentloop/tokenizer"
)

// LoopSetup carries everything needed to (re)build a loop: the
// definition, resolved-config overrides, the module implementations,
// and optional context collaborators. Resume rebuilds the config from
// the same definition, so the setup must match the original run.
type LoopSetup struct {
	Definition *loop.Definition
	Options    []loop.Option
	Modules    []loop.Module

	// Summarizer backs LLM compression strategies; nil degrades to
	// truncation.
	Summarizer loopctx.Summarizer

	// Observer receives run telemetry.
	Observer loop.Observer
}

// Runner starts and resumes loops against a checkpoint store. It owns
// the wiring between orchestrator, context manager, and store.
type Runner struct {
	store    checkpoint.Store
	registry *capability.Registry
	executor *Executor
	logger   *zap.Logger
}

// NewRunner creates a runner. The executor is optional and only needed
// when modules call capabilities through the durable layer.
func NewRunner(store checkpoint.Store, registry *capability.Registry, executor *Executor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:    store,
		registry: registry,
		executor: executor,
		logger:   logger.With(zap.String("component", "loop_runner")),
	}
}

// Executor returns the durable executor shared by this runner's loops.
func (r *Runner) Executor() *Executor { return r.executor }

// storeSink adapts a checkpoint.Store to the orchestrator's sink,
// persisting state and context as one checkpoint document.
type storeSink struct {
	store  checkpoint.Store
	loopID string
}

func (s *storeSink) Save(ctx context.Context, st *loop.State, snap loopctx.Snapshot) (uint64, error) {
	stateDoc, err := json.Marshal(st)
	if err != nil {
		return 0, fmt.Errorf("encode loop state: %w", err)
	}
	ctxDoc, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("encode context snapshot: %w", err)
	}
	return s.store.Save(ctx, &checkpoint.Checkpoint{
		LoopID:  s.loopID,
		State:   stateDoc,
		Context: ctxDoc,
	})
}

// Start runs a fresh loop under loopID, checkpointing every iteration
// boundary. A terminal notification is sent best-effort.
func (r *Runner) Start(ctx context.Context, loopID string, task any, setup LoopSetup) (*loop.State, error) {
	cfg, err := loop.FromDefinition(setup.Definition, setup.Options...)
	if err != nil {
		return nil, err
	}

	ctxmgr := loopctx.New(cfg.ContextConfig(),
		tokenizer.NewCounter(cfg.Model()),
		loopctx.NewCompressor(cfg.CompressionStrategy(), setup.Summarizer),
		r.logger)

	st := loop.NewState(loopID)
	return r.run(ctx, cfg, ctxmgr, st, task, setup)
}

// Resume continues an interrupted loop from its latest checkpoint,
// rebuilding the configuration from the definition and restoring both
// state and context exactly as checkpointed. A loop without
// checkpoints reports checkpoint.ErrNotFound.
func (r *Runner) Resume(ctx context.Context, loopID string, setup LoopSetup) (*loop.State, error) {
	cp, err := r.store.Load(ctx, loopID)
	if err != nil {
		return nil, err
	}

	var st loop.State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return nil, fmt.Errorf("decode checkpointed state for loop %s: %w", loopID, err)
	}
	if st.Status.Terminal() {
		return &st, nil
	}

	var snap loopctx.Snapshot
	if len(cp.Context) > 0 {
		if err := json.Unmarshal(cp.Context, &snap); err != nil {
			return nil, fmt.Errorf("decode checkpointed context for loop %s: %w", loopID, err)
		}
	}

	cfg, err := loop.FromDefinition(setup.Definition, setup.Options...)
	if err != nil {
		return nil, err
	}
	ctxmgr := loopctx.FromSnapshot(cfg.ContextConfig(), snap,
		tokenizer.NewCounter(cfg.Model()),
		loopctx.NewCompressor(cfg.CompressionStrategy(), setup.Summarizer),
		r.logger)

	r.logger.Info("resuming loop",
		zap.String("loop_id", loopID),
		zap.Uint64("checkpoint_id", cp.ID),
		zap.Int("iteration", st.Iteration),
		zap.String("next_module", string(st.NextModule)))
	return r.run(ctx, cfg, ctxmgr, &st, nil, setup)
}

func (r *Runner) run(ctx context.Context, cfg *loop.Config, ctxmgr *loopctx.Manager, st *loop.State, task any, setup LoopSetup) (*loop.State, error) {
	opts := []loop.OrchestratorOption{
		loop.WithCheckpointSink(&storeSink{store: r.store, loopID: st.LoopID}),
		loop.WithState(st),
	}
	if setup.Observer != nil {
		opts = append(opts, loop.WithLoopObserver(setup.Observer))
	}

	orch, err := loop.NewOrchestrator(cfg, r.registry, ctxmgr, r.logger, opts...)
	if err != nil {
		return nil, err
	}
	for _, m := range setup.Modules {
		if err := orch.RegisterModule(m); err != nil {
			return nil, err
		}
	}

	final, runErr := orch.Run(ctx, task)
	if final.Status.Terminal() && r.executor != nil {
		msg := fmt.Sprintf("loop %s finished with status %s after %d iterations",
			final.LoopID, final.Status, final.Iteration)
		if final.Status == loop.StatusFailed {
			msg = fmt.Sprintf("loop %s failed at module %s: %s",
				final.LoopID, final.FailedModule, final.FailureReason)
		}
		r.executor.NotifyUser(ctx, Notification{
			LoopID:  final.LoopID,
			Status:  final.Status,
			Message: msg,
		})
	}
	return final, runErr
}

// Loops lists the loop IDs that have at least one checkpoint and can
// be inspected or resumed.
func (r *Runner) Loops(ctx context.Context) ([]string, error) {
	return r.store.Loops(ctx)
}

// Inspect returns the latest checkpointed state summary of a loop
// without running it.
func (r *Runner) Inspect(ctx context.Context, loopID string) (loop.Summary, error) {
	cp, err := r.store.Load(ctx, loopID)
	if err != nil {
		return loop.Summary{}, err
	}
	var st loop.State
	if err := json.Unmarshal(cp.State, &st); err != nil {
		return loop.Summary{}, fmt.Errorf("decode checkpointed state for loop %s: %w", loopID, err)
	}
	return st.Summarize(), nil
}
