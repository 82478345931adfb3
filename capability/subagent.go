package capability

import (
	"context"
	"fmt"
)

// SubagentRunner runs a delegated agent session to completion. Only the
// final output crosses back; the subagent's intermediate turns stay
// inside the runner.
type SubagentRunner interface {
	Run(ctx context.Context, input Args) (any, error)
}

type subagentInvoker struct {
	name   string
	runner SubagentRunner
}

func (s *subagentInvoker) Invoke(ctx context.Context, args Args) (any, error) {
	out, err := s.runner.Run(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: subagent %q: %v", ErrInvocation, s.name, err)
	}
	return out, nil
}

// NewSubagent wraps a runner as a subagent capability. Subagents are
// registered in strict mode: a durable executor checkpoints before
// handing control to them.
func NewSubagent(desc Descriptor, runner SubagentRunner) *Capability {
	desc.Type = TypeSubagent
	desc.StrictMode = true
	return &Capability{Descriptor: desc, invoker: &subagentInvoker{name: desc.Name, runner: runner}}
}
