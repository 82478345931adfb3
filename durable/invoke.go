package durable

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentloop/loop"
)

// Invoke runs a capability from inside a module step with full durable
// semantics: when the capability is non-idempotent (strict mode), the
// loop's current state is checkpointed first, so a crash between the
// checkpoint and the side effect replays at most the invocation, never
// the whole iteration.
func Invoke(ctx context.Context, rt *loop.Runtime, ex *Executor, req CallRequest) (*CallResponse, error) {
	if ex.RequiresPreCheckpoint(req.CapabilityName) && rt.Checkpoint != nil {
		if err := rt.Checkpoint(ctx); err != nil {
			return nil, fmt.Errorf("checkpoint before %s: %w", req.CapabilityName, err)
		}
	}
	return ex.ExecuteCapability(ctx, req)
}
