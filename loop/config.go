package loop

import (
	"time"

	"github.com/BaSui01/agentloop/loopctx"
)

// DefaultModel is used when neither a module model nor a default model
// is configured.
const DefaultModel = "gpt-4o"

// ModuleConfig is the per-module slice of a loop configuration.
type ModuleConfig interface {
	Module() ModuleName
	Model() string
}

// PlanningConfig configures the planning module.
type PlanningConfig struct {
	ModelID            string
	Instructions       string
	ReplanInstructions string
	EnableReplanning   bool
}

func (c PlanningConfig) Module() ModuleName { return ModulePlanning }
func (c PlanningConfig) Model() string      { return c.ModelID }

// ExecutionConfig configures the execution module.
type ExecutionConfig struct {
	ModelID          string
	MaxParallelCalls int
}

func (c ExecutionConfig) Module() ModuleName { return ModuleExecution }
func (c ExecutionConfig) Model() string      { return c.ModelID }

// ReflectionConfig configures the reflection module.
type ReflectionConfig struct {
	ModelID string
}

func (c ReflectionConfig) Module() ModuleName { return ModuleReflection }
func (c ReflectionConfig) Model() string      { return c.ModelID }

// ValidationConfig configures the validation module with its active rules.
type ValidationConfig struct {
	ModelID string
	Rules   []ValidationRule
}

func (c ValidationConfig) Module() ModuleName { return ModuleValidation }
func (c ValidationConfig) Model() string      { return c.ModelID }

// ObserveConfig configures the observe module.
type ObserveConfig struct {
	ModelID string
}

func (c ObserveConfig) Module() ModuleName { return ModuleObserve }
func (c ObserveConfig) Model() string      { return c.ModelID }

// ObservabilityConfig carries the resolved observability toggles.
type ObservabilityConfig struct {
	EnableLogging bool
	LogLevel      string
	EnableMetrics bool
	EnableTracing bool
}

// Config is the immutable, resolved configuration of a loop. Build one
// with FromDefinition; after construction it never changes, so it is
// safe to share across goroutines without locks.
type Config struct {
	name          string
	version       string
	systemPrompt  string
	model         string
	maxIterations int
	stepTimeout   time.Duration
	capabilities  []string

	contextCfg    loopctx.Config
	strategy      string
	observability ObservabilityConfig

	modules map[ModuleName]ModuleConfig
	enabled map[ModuleName]bool
}

// Option overrides a resolved configuration value. Options are applied
// after the definition, so they always win.
type Option func(*Config)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.model = model
		for name, mc := range c.modules {
			switch v := mc.(type) {
			case PlanningConfig:
				v.ModelID = model
				c.modules[name] = v
			case ExecutionConfig:
				v.ModelID = model
				c.modules[name] = v
			case ReflectionConfig:
				v.ModelID = model
				c.modules[name] = v
			case ValidationConfig:
				v.ModelID = model
				c.modules[name] = v
			case ObserveConfig:
				v.ModelID = model
				c.modules[name] = v
			}
		}
	}
}

// WithMaxIterations overrides the iteration ceiling.
func WithMaxIterations(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithStepTimeout bounds each module step.
func WithStepTimeout(d time.Duration) Option {
	return func(c *Config) { c.stepTimeout = d }
}

// WithModuleEnabled force-enables or disables a module, overriding the
// definition's enablement rules.
func WithModuleEnabled(name ModuleName, enabled bool) Option {
	return func(c *Config) {
		if !knownModule(name) {
			return
		}
		c.enabled[name] = enabled
		if !enabled {
			return
		}
		if _, ok := c.modules[name]; ok {
			return
		}
		switch name {
		case ModulePlanning:
			c.modules[name] = PlanningConfig{ModelID: c.model}
		case ModuleReflection:
			c.modules[name] = ReflectionConfig{ModelID: c.model}
		case ModuleValidation:
			c.modules[name] = ValidationConfig{ModelID: c.model}
		}
	}
}

// WithContextConfig overrides the context budget.
func WithContextConfig(cc loopctx.Config) Option {
	return func(c *Config) { c.contextCfg = cc }
}

// FromDefinition resolves a validated definition into an immutable
// Config. It is pure: the same definition and options always produce
// an identical configuration, which is what makes resume after a crash
// deterministic.
func FromDefinition(def *Definition, opts ...Option) (*Config, error) {
	d := *def
	d.applyDefaults()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	resolve := func(moduleModel string) string {
		if moduleModel != "" {
			return moduleModel
		}
		if d.Models.Default != "" {
			return d.Models.Default
		}
		return DefaultModel
	}

	enableCompression := true
	if d.Context.EnableCompression != nil {
		enableCompression = *d.Context.EnableCompression
	}
	keepRecent := d.Context.KeepRecent
	if keepRecent <= 0 {
		keepRecent = loopctx.DefaultConfig().KeepRecent
	}

	enableLogging := true
	if d.Observability.EnableLogging != nil {
		enableLogging = *d.Observability.EnableLogging
	}

	cfg := &Config{
		name:          d.Metadata.Name,
		version:       d.Metadata.Version,
		systemPrompt:  d.SystemPrompt,
		model:         resolve(""),
		maxIterations: d.Runtime.MaxIterations,
		stepTimeout:   time.Duration(d.Runtime.TimeoutSeconds) * time.Second,
		capabilities:  append([]string(nil), d.Capabilities...),
		contextCfg: loopctx.Config{
			MaxTokens:            d.Context.MaxTokens,
			CompressionThreshold: d.Context.CompressionThreshold,
			EnableCompression:    enableCompression,
			KeepRecent:           keepRecent,
		},
		strategy: d.Context.CompressionStrategy,
		observability: ObservabilityConfig{
			EnableLogging: enableLogging,
			LogLevel:      d.Observability.LogLevel,
			EnableMetrics: d.Observability.EnableMetrics,
			EnableTracing: d.Observability.EnableTracing,
		},
		modules: make(map[ModuleName]ModuleConfig),
		enabled: make(map[ModuleName]bool),
	}

	// planning runs only when the section is present and enabled
	if d.Planning != nil && d.Planning.Enabled {
		cfg.enabled[ModulePlanning] = true
		cfg.modules[ModulePlanning] = PlanningConfig{
			ModelID:            resolve(d.Models.Planning),
			Instructions:       d.Planning.Instructions,
			ReplanInstructions: d.Planning.ReplanInstructions,
			EnableReplanning:   d.Runtime.EnableReplanning,
		}
	}

	// execution and observe are always on
	cfg.enabled[ModuleExecution] = true
	cfg.modules[ModuleExecution] = ExecutionConfig{ModelID: resolve(d.Models.Execution)}
	cfg.enabled[ModuleObserve] = true
	cfg.modules[ModuleObserve] = ObserveConfig{ModelID: resolve(d.Models.Observe)}

	// reflection is opt-in via runtime config
	if d.Runtime.EnableReflection {
		cfg.enabled[ModuleReflection] = true
		cfg.modules[ModuleReflection] = ReflectionConfig{ModelID: resolve(d.Models.Reflection)}
	}

	// validation needs both the toggle and at least one active rule
	if d.Runtime.EnableValidation {
		var active []ValidationRule
		for _, r := range d.Validation {
			if r.IsEnabled() {
				active = append(active, r)
			}
		}
		if len(active) > 0 {
			cfg.enabled[ModuleValidation] = true
			cfg.modules[ModuleValidation] = ValidationConfig{
				ModelID: resolve(d.Models.Validation),
				Rules:   active,
			}
		}
	}

	for _, opt := range opts {
		opt(cfg)
	}
	return cfg, nil
}

func (c *Config) Name() string               { return c.name }
func (c *Config) Version() string            { return c.version }
func (c *Config) SystemPrompt() string       { return c.systemPrompt }
func (c *Config) Model() string              { return c.model }
func (c *Config) MaxIterations() int         { return c.maxIterations }
func (c *Config) StepTimeout() time.Duration { return c.stepTimeout }

// Capabilities returns a copy of the required capability names.
func (c *Config) Capabilities() []string {
	return append([]string(nil), c.capabilities...)
}

// ContextConfig returns the resolved context budget.
func (c *Config) ContextConfig() loopctx.Config { return c.contextCfg }

// CompressionStrategy returns the configured strategy name.
func (c *Config) CompressionStrategy() string { return c.strategy }

// Observability returns the resolved observability toggles.
func (c *Config) Observability() ObservabilityConfig { return c.observability }

// IsModuleEnabled reports whether a module runs in this loop. Unknown
// names are disabled.
func (c *Config) IsModuleEnabled(name ModuleName) bool {
	return c.enabled[name]
}

// ModuleFor returns the configuration of an enabled module.
func (c *Config) ModuleFor(name ModuleName) (ModuleConfig, bool) {
	mc, ok := c.modules[name]
	return mc, ok
}

// EnabledModules returns the enabled modules in pipeline order.
func (c *Config) EnabledModules() []ModuleName {
	var out []ModuleName
	for _, name := range moduleOrder {
		if c.enabled[name] {
			out = append(out, name)
		}
	}
	return out
}
