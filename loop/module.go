package loop

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/loopctx"
)

// ModuleName identifies a stage of the iteration pipeline.
type ModuleName string

const (
	ModulePlanning   ModuleName = "planning"
	ModuleExecution  ModuleName = "execution"
	ModuleReflection ModuleName = "reflection"
	ModuleValidation ModuleName = "validation"
	ModuleObserve    ModuleName = "observe"
)

// moduleOrder is the fixed stage order within one iteration.
var moduleOrder = []ModuleName{
	ModulePlanning,
	ModuleExecution,
	ModuleReflection,
	ModuleValidation,
	ModuleObserve,
}

// knownModule reports whether name is one of the pipeline stages.
func knownModule(name ModuleName) bool {
	for _, m := range moduleOrder {
		if m == name {
			return true
		}
	}
	return false
}

// Signal is a module's verdict on how the loop should proceed.
type Signal int

const (
	// SignalContinue advances to the next enabled module.
	SignalContinue Signal = iota
	// SignalReplan routes the next iteration back through planning.
	SignalReplan
	// SignalStop completes the loop successfully.
	SignalStop
	// SignalFail aborts the loop.
	SignalFail
)

func (s Signal) String() string {
	switch s {
	case SignalContinue:
		return "continue"
	case SignalReplan:
		return "replan"
	case SignalStop:
		return "stop"
	case SignalFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Runtime is the per-step view a module receives. It carries the loop's
// shared collaborators; modules must not retain it past the step.
type Runtime struct {
	Config   *Config
	State    *State
	Context  *loopctx.Manager
	Registry *capability.Registry
	Logger   *zap.Logger

	// Checkpoint persists the loop's current state mid-step. Modules
	// call it before triggering non-idempotent side effects. Nil when
	// no checkpoint sink is configured.
	Checkpoint func(ctx context.Context) error
}

// Module is one stage of the loop pipeline. Step runs at most once per
// iteration; a returned error fails the loop at this module boundary.
type Module interface {
	Name() ModuleName
	Step(ctx context.Context, rt *Runtime) (Signal, error)
}

// StepFunc adapts a function to the Module interface.
type StepFunc func(ctx context.Context, rt *Runtime) (Signal, error)

type funcModule struct {
	name ModuleName
	fn   StepFunc
}

func (m *funcModule) Name() ModuleName { return m.name }

func (m *funcModule) Step(ctx context.Context, rt *Runtime) (Signal, error) {
	return m.fn(ctx, rt)
}

// NewModule wraps a step function as a named module.
func NewModule(name ModuleName, fn StepFunc) Module {
	return &funcModule{name: name, fn: fn}
}
