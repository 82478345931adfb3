// Package durable layers crash-safe execution over the loop: retried
// capability activities with at-least-once delivery, checkpoint-before-
// invoke for non-idempotent capabilities, best-effort user
// notifications, and resume of interrupted loops from their latest
// checkpoint.
package durable

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/retry"
)

// CallRequest asks the executor to invoke one capability durably.
type CallRequest struct {
	CapabilityName string          `json:"capability_name"`
	Arguments      capability.Args `json:"arguments,omitempty"`

	// IdempotencyKey dedupes delivery across retries and restarts. An
	// empty key gets a generated UUID.
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// Retry overrides the executor's default policy for this call.
	Retry *retry.Policy `json:"-"`
}

// CallResponse is the final outcome of a durable capability call.
type CallResponse struct {
	*capability.Result

	CapabilityName string `json:"capability_name"`
	IdempotencyKey string `json:"idempotency_key"`
	AttemptCount   int    `json:"attempt_count"`
}

// Executor invokes capabilities with retry. Handler failures and
// transient backend errors retry under the policy; lookup failures and
// withheld approvals never do.
type Executor struct {
	registry *capability.Registry
	policy   *retry.Policy
	logger   *zap.Logger
	notifier Notifier
}

// ExecutorOption customizes an executor.
type ExecutorOption func(*Executor)

// WithRetryPolicy sets the default policy for all calls.
func WithRetryPolicy(p *retry.Policy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithNotifier routes user notifications through n.
func WithNotifier(n Notifier) ExecutorOption {
	return func(e *Executor) { e.notifier = n }
}

// NewExecutor creates a durable executor over a registry.
func NewExecutor(registry *capability.Registry, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		registry: registry,
		policy:   retry.DefaultPolicy(),
		logger:   logger.With(zap.String("component", "durable_executor")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RequiresPreCheckpoint reports whether the named capability is
// non-idempotent and must have a checkpoint persisted before invocation.
// Unknown capabilities report false; the invocation itself will fail.
func (e *Executor) RequiresPreCheckpoint(name string) bool {
	c, err := e.registry.Get(name)
	if err != nil {
		return false
	}
	return c.StrictMode
}

// ExecuteCapability invokes a capability with at-least-once semantics:
// the handler may run more than once, so side effects should be keyed
// on the idempotency key. Permission denials and unknown capabilities
// return an error without retrying.
func (e *Executor) ExecuteCapability(ctx context.Context, req CallRequest) (*CallResponse, error) {
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	policy := req.Retry
	if policy == nil {
		p := *e.policy
		policy = &p
	}
	policy.Permanent = append(policy.Permanent,
		capability.ErrNotFound, capability.ErrPermissionDenied)

	attempts := 0
	retryer := retry.NewBackoffRetryer(policy, e.logger)
	out, err := retryer.DoWithResult(ctx, func() (any, error) {
		attempts++
		res, invErr := e.registry.Invoke(ctx, req.CapabilityName, req.Arguments)
		if invErr != nil {
			return nil, invErr
		}
		if !res.Success {
			// failed results retry; the last one is kept on exhaustion
			return res, fmt.Errorf("%w: %s", capability.ErrInvocation, res.Error)
		}
		return res, nil
	})

	if err != nil {
		if res, ok := out.(*capability.Result); ok && res != nil {
			return e.respond(req, res, attempts), nil
		}
		e.logger.Warn("durable capability call failed",
			zap.String("capability", req.CapabilityName),
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, err
	}
	return e.respond(req, out.(*capability.Result), attempts), nil
}

func (e *Executor) respond(req CallRequest, res *capability.Result, attempts int) *CallResponse {
	e.logger.Debug("durable capability call finished",
		zap.String("capability", req.CapabilityName),
		zap.Bool("success", res.Success),
		zap.Int("attempts", attempts))
	return &CallResponse{
		Result:         res,
		CapabilityName: req.CapabilityName,
		IdempotencyKey: req.IdempotencyKey,
		AttemptCount:   attempts,
	}
}

// ExecuteParallel runs a batch of calls with bounded concurrency,
// preserving request order in the responses. The first hard error
// cancels the remaining calls.
func (e *Executor) ExecuteParallel(ctx context.Context, reqs []CallRequest, maxConcurrent int) ([]*CallResponse, error) {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	responses := make([]*CallResponse, len(reqs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, req := range reqs {
		g.Go(func() error {
			resp, err := e.ExecuteCapability(gctx, req)
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// NotifyUser delivers a notification best-effort: failures are logged
// and swallowed, never propagated into the loop.
func (e *Executor) NotifyUser(ctx context.Context, n Notification) {
	if e.notifier == nil {
		return
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("user notification failed",
			zap.String("loop_id", n.LoopID),
			zap.String("status", string(n.Status)),
			zap.Error(err))
	}
}
