package durable

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/checkpoint"
	"github.com/BaSui01/agentloop/loop"
)

func testDefinition() *loop.Definition {
	return &loop.Definition{
		Metadata: loop.Metadata{Name: "runner-loop", Version: "1.0.0"},
		Models:   loop.ModelSet{Default: "gpt-4o"},
		Runtime:  loop.RuntimeConfig{MaxIterations: 10},
	}
}

func passStep(name loop.ModuleName) loop.Module {
	return loop.NewModule(name, func(_ context.Context, rt *loop.Runtime) (loop.Signal, error) {
		return loop.SignalContinue, nil
	})
}

func TestStartRunsToCompletionAndNotifies(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	reg := capability.NewRegistry(zap.NewNop())

	var notified []Notification
	ex := NewExecutor(reg, zap.NewNop(), WithNotifier(NotifierFunc(func(_ context.Context, n Notification) error {
		notified = append(notified, n)
		return nil
	})))
	r := NewRunner(store, reg, ex, zap.NewNop())

	exec := loop.NewModule(loop.ModuleExecution, func(_ context.Context, rt *loop.Runtime) (loop.Signal, error) {
		if rt.State.Iteration >= 2 {
			return loop.SignalStop, nil
		}
		return loop.SignalContinue, nil
	})

	state, err := r.Start(context.Background(), "run-1", "do the thing", LoopSetup{
		Definition: testDefinition(),
		Modules:    []loop.Module{exec, passStep(loop.ModuleObserve)},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.Status != loop.StatusCompleted {
		t.Errorf("status: got %s", state.Status)
	}

	if len(notified) != 1 || notified[0].Status != loop.StatusCompleted {
		t.Errorf("notifications: %+v", notified)
	}

	cps, err := store.List(context.Background(), "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(cps) == 0 {
		t.Fatal("run should leave checkpoints")
	}
}

func TestCrashAndResumeAtBoundary(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	reg := capability.NewRegistry(zap.NewNop())
	r := NewRunner(store, reg, nil, zap.NewNop())

	// first process: simulated crash via cancellation after iteration 1
	runCtx, cancel := context.WithCancel(context.Background())
	totalSteps := 0
	exec1 := loop.NewModule(loop.ModuleExecution, func(_ context.Context, rt *loop.Runtime) (loop.Signal, error) {
		totalSteps++
		if rt.State.Iteration == 1 {
			cancel()
		}
		return loop.SignalContinue, nil
	})

	state, err := r.Start(runCtx, "run-2", "long task", LoopSetup{
		Definition: testDefinition(),
		Modules:    []loop.Module{exec1, passStep(loop.ModuleObserve)},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if state.Status.Terminal() {
		t.Fatalf("interrupted loop must stay resumable, status %s", state.Status)
	}

	sum, err := r.Inspect(context.Background(), "run-2")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if sum.Status != loop.StatusRunning || sum.Iteration == 0 {
		t.Errorf("checkpointed summary: %+v", sum)
	}

	// second process: resume and finish
	resumedFrom := -1
	exec2 := loop.NewModule(loop.ModuleExecution, func(_ context.Context, rt *loop.Runtime) (loop.Signal, error) {
		if resumedFrom < 0 {
			resumedFrom = rt.State.Iteration
		}
		if rt.State.Iteration >= resumedFrom+1 {
			return loop.SignalStop, nil
		}
		return loop.SignalContinue, nil
	})

	final, err := r.Resume(context.Background(), "run-2", LoopSetup{
		Definition: testDefinition(),
		Modules:    []loop.Module{exec2, passStep(loop.ModuleObserve)},
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if final.Status != loop.StatusCompleted {
		t.Errorf("status after resume: got %s", final.Status)
	}
	if resumedFrom != sum.Iteration {
		t.Errorf("resume started at iteration %d, checkpoint said %d", resumedFrom, sum.Iteration)
	}
}

func TestResumeUnknownLoop(t *testing.T) {
	r := NewRunner(checkpoint.NewMemoryStore(), capability.NewRegistry(zap.NewNop()), nil, zap.NewNop())
	_, err := r.Resume(context.Background(), "ghost", LoopSetup{Definition: testDefinition()})
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("got %v, want checkpoint.ErrNotFound", err)
	}
}

func TestResumeTerminalLoopReturnsState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	reg := capability.NewRegistry(zap.NewNop())
	r := NewRunner(store, reg, nil, zap.NewNop())

	def := testDefinition()
	def.Runtime.MaxIterations = 1
	if _, err := r.Start(context.Background(), "run-3", "t", LoopSetup{
		Definition: def,
		Modules:    []loop.Module{passStep(loop.ModuleExecution), passStep(loop.ModuleObserve)},
	}); err != nil {
		t.Fatalf("start: %v", err)
	}

	state, err := r.Resume(context.Background(), "run-3", LoopSetup{Definition: def})
	if err != nil {
		t.Fatalf("resume terminal: %v", err)
	}
	if state.Status != loop.StatusMaxIterations {
		t.Errorf("status: got %s", state.Status)
	}

	loops, err := r.Loops(context.Background())
	if err != nil || len(loops) != 1 || loops[0] != "run-3" {
		t.Errorf("loops: %v err=%v", loops, err)
	}
}

func TestInvokeCheckpointsBeforeStrictCapability(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	reg := capability.NewRegistry(zap.NewNop())

	var savesAtInvoke int
	sub := capability.NewSubagent(capability.Descriptor{Name: "delegate"},
		runnerFunc(func(_ context.Context, in capability.Args) (any, error) {
			cps, _ := store.List(context.Background(), "run-4")
			savesAtInvoke = len(cps)
			return "delegated", nil
		}))
	if err := reg.Register(sub, false); err != nil {
		t.Fatal(err)
	}

	ex := NewExecutor(reg, zap.NewNop(), WithRetryPolicy(fastRetry()))
	r := NewRunner(store, reg, ex, zap.NewNop())

	exec := loop.NewModule(loop.ModuleExecution, func(ctx context.Context, rt *loop.Runtime) (loop.Signal, error) {
		resp, err := Invoke(ctx, rt, ex, CallRequest{CapabilityName: "delegate"})
		if err != nil {
			return loop.SignalFail, err
		}
		rt.State.Result = resp.Output
		return loop.SignalStop, nil
	})

	state, err := r.Start(context.Background(), "run-4", "t", LoopSetup{
		Definition: testDefinition(),
		Modules:    []loop.Module{exec, passStep(loop.ModuleObserve)},
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.Result != "delegated" {
		t.Errorf("result: %v", state.Result)
	}
	if savesAtInvoke == 0 {
		t.Error("a checkpoint must exist before the strict capability runs")
	}
}
