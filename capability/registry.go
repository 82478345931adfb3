package capability

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentloop/types"
)

// Observer receives invocation telemetry from a registry.
type Observer interface {
	RecordInvocation(name string, capType Type, success bool, d time.Duration)
}

// Registry is a concurrent catalog of capabilities. The zero value is
// not usable; create registries with NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	caps     map[string]*Capability
	limiters map[string]*rate.Limiter

	logger   *zap.Logger
	observer Observer
}

// RegistryOption customizes a registry at construction.
type RegistryOption func(*Registry)

// WithObserver attaches invocation telemetry.
func WithObserver(o Observer) RegistryOption {
	return func(r *Registry) { r.observer = o }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		caps:     make(map[string]*Capability),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "capability_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a capability under its descriptor name. Registering an
// existing name fails with ErrDuplicate unless override is set, in
// which case the previous entry is replaced.
func (r *Registry) Register(c *Capability, override bool) error {
	if c == nil || c.invoker == nil {
		return types.NewError(types.ErrCodeConfiguration, "capability has no invoker")
	}
	if c.Name == "" {
		return types.NewError(types.ErrCodeConfiguration, "capability name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[c.Name]; exists && !override {
		return fmt.Errorf("%w: %s", ErrDuplicate, c.Name)
	}
	r.caps[c.Name] = c
	if rl := c.RateLimit; rl != nil && rl.PerSecond > 0 {
		burst := rl.Burst
		if burst < 1 {
			burst = 1
		}
		r.limiters[c.Name] = rate.NewLimiter(rate.Limit(rl.PerSecond), burst)
	} else {
		delete(r.limiters, c.Name)
	}

	r.logger.Debug("capability registered",
		zap.String("name", c.Name),
		zap.String("type", string(c.Type)),
		zap.Bool("override", override))
	return nil
}

// Unregister removes a capability. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.caps, name)
	delete(r.limiters, name)
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (*Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.caps[name]
	return ok
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.caps)
}

// Filter selects descriptors in List. Zero-valued fields match everything.
type Filter struct {
	Type Type
	Tags []string
}

func (f Filter) matches(d Descriptor) bool {
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	for _, want := range f.Tags {
		if !slices.Contains(d.Tags, want) {
			return false
		}
	}
	return true
}

// List yields the descriptors matching the filter in name order. The
// sequence iterates over a snapshot, so registrations made during
// iteration are not observed.
func (r *Registry) List(f Filter) iter.Seq[Descriptor] {
	r.mu.RLock()
	descs := make([]Descriptor, 0, len(r.caps))
	for _, c := range r.caps {
		if f.matches(c.Descriptor) {
			descs = append(descs, c.Descriptor)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(descs, func(a, b Descriptor) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})

	return func(yield func(Descriptor) bool) {
		for _, d := range descs {
			if !yield(d) {
				return
			}
		}
	}
}

// Invoke dispatches a capability by name. Handler-level failures come
// back as a Result with Success=false so the loop can surface them to
// the model; lookup failures and withheld approvals are Go errors.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (*Result, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	if limiter := r.limiterFor(name); limiter != nil && !limiter.Allow() {
		res := &Result{
			Success:  false,
			Error:    fmt.Sprintf("rate limit exceeded for capability %q", name),
			Duration: time.Since(start),
			cause:    types.NewErrorf(types.ErrCodeRateLimited, "capability %s", name).WithRetryable(true),
		}
		r.record(c, false, res.Duration)
		return res, nil
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	out, err := c.invoker.Invoke(ctx, args)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			r.record(c, false, elapsed)
			r.logger.Warn("capability invocation denied",
				zap.String("name", name), zap.Error(err))
			return nil, err
		}
		r.record(c, false, elapsed)
		r.logger.Warn("capability invocation failed",
			zap.String("name", name),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return &Result{Success: false, Error: err.Error(), Duration: elapsed, cause: err}, nil
	}

	r.record(c, true, elapsed)
	r.logger.Debug("capability invoked",
		zap.String("name", name),
		zap.Duration("duration", elapsed))
	return &Result{Success: true, Output: out, Duration: elapsed}, nil
}

func (r *Registry) limiterFor(name string) *rate.Limiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[name]
}

func (r *Registry) record(c *Capability, success bool, d time.Duration) {
	if r.observer != nil {
		r.observer.RecordInvocation(c.Name, c.Type, success, d)
	}
}
