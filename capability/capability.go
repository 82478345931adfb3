// Package capability implements the capability registry: a uniform
// catalog of everything a loop can invoke. Functions, delegated
// subagents, and MCP tools all register under one descriptor shape and
// are dispatched through a single Invoke entry point.
package capability

import (
	"context"
	"time"
)

// Type discriminates the kinds of invokable capability.
type Type string

const (
	TypeFunction Type = "function"
	TypeSubagent Type = "subagent"
	TypeMCP      Type = "mcp"
)

// Args is the keyword-style argument map passed to every invocation.
type Args map[string]any

// Result is the outcome of a capability invocation. A failed handler is
// reported here rather than as a Go error so the loop can feed the
// failure back to the model.
type Result struct {
	Success  bool          `json:"success"`
	Output   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	cause error
}

// Cause returns the underlying error of a failed invocation, if any.
func (r *Result) Cause() error {
	return r.cause
}

// RateLimit caps invocation frequency for a capability.
type RateLimit struct {
	PerSecond float64 `json:"per_second" yaml:"per_second"`
	Burst     int     `json:"burst" yaml:"burst"`
}

// Descriptor is the registered metadata of a capability. Descriptors
// are treated as immutable after registration.
type Descriptor struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Type        Type           `json:"type" yaml:"type"`
	Tags        []string       `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Source      string         `json:"source,omitempty" yaml:"source,omitempty"`

	// StrictMode marks the capability non-idempotent: the durable layer
	// must persist a checkpoint before invoking it.
	StrictMode bool `json:"strict_mode,omitempty" yaml:"strict_mode,omitempty"`

	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	RateLimit *RateLimit    `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
}

// Invoker executes a capability. Implementations are provided per Type.
type Invoker interface {
	Invoke(ctx context.Context, args Args) (any, error)
}

// Capability pairs a descriptor with its invoker.
type Capability struct {
	Descriptor
	invoker Invoker
}

// Func is a plain in-process capability handler.
type Func func(ctx context.Context, args Args) (any, error)

func (f Func) Invoke(ctx context.Context, args Args) (any, error) {
	return f(ctx, args)
}

// NewFunction wraps a handler function as a function capability.
func NewFunction(desc Descriptor, fn Func) *Capability {
	desc.Type = TypeFunction
	return &Capability{Descriptor: desc, invoker: fn}
}
