// Package agentloop composes the framework: a capability registry, a
// checkpoint store, and a durable runner wired together with logging,
// metrics, and telemetry. It is the single place where process-wide
// defaults are decided; the subpackages themselves never install
// global state.
package agentloop

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/capability"
	"github.com/BaSui01/agentloop/checkpoint"
	"github.com/BaSui01/agentloop/durable"
	"github.com/BaSui01/agentloop/internal/metrics"
	"github.com/BaSui01/agentloop/internal/telemetry"
	"github.com/BaSui01/agentloop/loop"
)

// Config assembles an App.
type Config struct {
	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Store defaults to an in-memory checkpoint store.
	Store checkpoint.Store

	// Notifier receives loop lifecycle notifications; defaults to the
	// log notifier.
	Notifier durable.Notifier

	// MetricsNamespace enables Prometheus metrics when non-empty.
	MetricsNamespace string

	// MetricsRegisterer defaults to the global Prometheus registerer.
	MetricsRegisterer prometheus.Registerer

	// EnableTelemetry turns on OTLP trace and metric export.
	EnableTelemetry bool
	ServiceName     string
	OTLPEndpoint    string
}

// App is an assembled framework instance.
type App struct {
	Registry *capability.Registry
	Store    checkpoint.Store
	Executor *durable.Executor
	Runner   *durable.Runner

	logger    *zap.Logger
	collector *metrics.Collector
	providers *telemetry.Providers
}

// RegisterFunc populates a registry during App construction.
type RegisterFunc func(*capability.Registry) error

// New builds an App. Capabilities register through fns so a fully
// populated registry exists before any loop references it.
func New(ctx context.Context, cfg Config, fns ...RegisterFunc) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var collector *metrics.Collector
	var regOpts []capability.RegistryOption
	if cfg.MetricsNamespace != "" {
		collector = metrics.NewCollector(cfg.MetricsNamespace, cfg.MetricsRegisterer, logger)
		regOpts = append(regOpts, capability.WithObserver(collector))
	}

	registry := capability.NewRegistry(logger, regOpts...)
	for _, fn := range fns {
		if err := fn(registry); err != nil {
			return nil, fmt.Errorf("register capabilities: %w", err)
		}
	}

	store := cfg.Store
	if store == nil {
		store = checkpoint.NewMemoryStore()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = durable.NewLogNotifier(logger)
	}
	executor := durable.NewExecutor(registry, logger, durable.WithNotifier(notifier))
	runner := durable.NewRunner(store, registry, executor, logger)

	var providers *telemetry.Providers
	if cfg.EnableTelemetry {
		tcfg := telemetry.DefaultConfig()
		tcfg.Enabled = true
		if cfg.ServiceName != "" {
			tcfg.ServiceName = cfg.ServiceName
		}
		if cfg.OTLPEndpoint != "" {
			tcfg.OTLPEndpoint = cfg.OTLPEndpoint
		}
		var err error
		providers, err = telemetry.Init(ctx, tcfg, logger)
		if err != nil {
			return nil, err
		}
	}

	return &App{
		Registry:  registry,
		Store:     store,
		Executor:  executor,
		Runner:    runner,
		logger:    logger,
		collector: collector,
		providers: providers,
	}, nil
}

// Run starts a fresh loop under loopID.
func (a *App) Run(ctx context.Context, loopID string, task any, setup durable.LoopSetup) (*loop.State, error) {
	if setup.Observer == nil && a.collector != nil {
		setup.Observer = a.collector
	}
	return a.Runner.Start(ctx, loopID, task, setup)
}

// Resume continues an interrupted loop from its latest checkpoint.
func (a *App) Resume(ctx context.Context, loopID string, setup durable.LoopSetup) (*loop.State, error) {
	if setup.Observer == nil && a.collector != nil {
		setup.Observer = a.collector
	}
	return a.Runner.Resume(ctx, loopID, setup)
}

// Loops lists loops with at least one checkpoint.
func (a *App) Loops(ctx context.Context) ([]string, error) {
	return a.Runner.Loops(ctx)
}

// Close flushes telemetry and closes the checkpoint store.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.providers != nil {
		firstErr = a.providers.Shutdown(ctx)
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
