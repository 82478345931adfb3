// Package loop implements the agent loop: declarative YAML definitions,
// immutable loop configuration, the module pipeline, and the iteration
// state machine that drives it.
package loop

import (
	"fmt"

	"github.com/BaSui01/agentloop/types"
)

// Definition is the declarative description of a loop, usually loaded
// from YAML. It is validated structurally before any loop is built.
type Definition struct {
	Metadata      Metadata             `yaml:"metadata" json:"metadata"`
	SystemPrompt  string               `yaml:"system_prompt" json:"system_prompt"`
	Models        ModelSet             `yaml:"models" json:"models"`
	Runtime       RuntimeConfig        `yaml:"runtime_config" json:"runtime_config"`
	Planning      *PlanningSection     `yaml:"planning_config,omitempty" json:"planning_config,omitempty"`
	Context       ContextSection       `yaml:"context_config" json:"context_config"`
	Observability ObservabilitySection `yaml:"observability_config" json:"observability_config"`
	Capabilities  []string             `yaml:"capabilities" json:"capabilities"`
	Validation    []ValidationRule     `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
}

// Metadata identifies a definition.
type Metadata struct {
	Name        string   `yaml:"name" json:"name"`
	Version     string   `yaml:"version" json:"version"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// ModelSet assigns models per module, with a required default. A
// missing per-module entry falls back to Default.
type ModelSet struct {
	Default    string `yaml:"default_model" json:"default_model"`
	Planning   string `yaml:"planning_model,omitempty" json:"planning_model,omitempty"`
	Execution  string `yaml:"execution_model,omitempty" json:"execution_model,omitempty"`
	Reflection string `yaml:"reflection_model,omitempty" json:"reflection_model,omitempty"`
	Validation string `yaml:"validation_model,omitempty" json:"validation_model,omitempty"`
	Observe    string `yaml:"observe_model,omitempty" json:"observe_model,omitempty"`
}

// RuntimeConfig controls the loop's execution envelope.
type RuntimeConfig struct {
	MaxIterations    int  `yaml:"max_iterations" json:"max_iterations"`
	TimeoutSeconds   int  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	EnableReflection bool `yaml:"enable_reflection" json:"enable_reflection"`
	EnableValidation bool `yaml:"enable_validation" json:"enable_validation"`
	EnableReplanning bool `yaml:"enable_replanning" json:"enable_replanning"`
}

// PlanningSection enables the planning module when present and enabled.
type PlanningSection struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	Instructions       string `yaml:"planning_instructions,omitempty" json:"planning_instructions,omitempty"`
	ReplanInstructions string `yaml:"replan_instructions,omitempty" json:"replan_instructions,omitempty"`
}

// ContextSection bounds the conversation context.
type ContextSection struct {
	MaxTokens            int     `yaml:"max_tokens" json:"max_tokens"`
	CompressionThreshold float64 `yaml:"compression_threshold" json:"compression_threshold"`
	CompressionStrategy  string  `yaml:"compression_strategy,omitempty" json:"compression_strategy,omitempty"`
	EnableCompression    *bool   `yaml:"compression_enabled,omitempty" json:"compression_enabled,omitempty"`
	KeepRecent           int     `yaml:"keep_recent,omitempty" json:"keep_recent,omitempty"`
}

// ObservabilitySection toggles logging, metrics, and tracing.
type ObservabilitySection struct {
	EnableLogging *bool  `yaml:"enable_logging,omitempty" json:"enable_logging,omitempty"`
	LogLevel      string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
	EnableMetrics bool   `yaml:"enable_metrics,omitempty" json:"enable_metrics,omitempty"`
	EnableTracing bool   `yaml:"enable_tracing,omitempty" json:"enable_tracing,omitempty"`
}

// ValidationRule is one named check run by the validation module.
type ValidationRule struct {
	Name        string         `yaml:"name" json:"name"`
	Type        string         `yaml:"type" json:"type"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Config      map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// IsEnabled reports whether the rule is active; rules default to enabled.
func (r ValidationRule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// applyDefaults fills unset definition fields in place.
func (d *Definition) applyDefaults() {
	if d.Runtime.MaxIterations == 0 {
		d.Runtime.MaxIterations = 10
	}
	if d.Context.MaxTokens == 0 {
		d.Context.MaxTokens = 100000
	}
	if d.Context.CompressionThreshold == 0 {
		d.Context.CompressionThreshold = 0.8
	}
	if d.Context.CompressionStrategy == "" {
		d.Context.CompressionStrategy = "adaptive"
	}
	if d.Observability.LogLevel == "" {
		d.Observability.LogLevel = "info"
	}
}

// Validate checks structural invariants of the definition.
func (d *Definition) Validate() error {
	if d.Metadata.Name == "" {
		return types.NewError(types.ErrCodeConfiguration, "definition metadata.name is required")
	}
	if d.Models.Default == "" {
		return types.NewError(types.ErrCodeConfiguration, "definition models.default_model is required")
	}
	if d.Runtime.MaxIterations <= 0 {
		return types.NewErrorf(types.ErrCodeConfiguration,
			"runtime_config.max_iterations must be positive, got %d", d.Runtime.MaxIterations)
	}
	if t := d.Context.CompressionThreshold; t <= 0 || t > 1 {
		return types.NewErrorf(types.ErrCodeConfiguration,
			"context_config.compression_threshold must be in (0,1], got %g", t)
	}
	if d.Context.MaxTokens <= 0 {
		return types.NewErrorf(types.ErrCodeConfiguration,
			"context_config.max_tokens must be positive, got %d", d.Context.MaxTokens)
	}
	seen := make(map[string]struct{}, len(d.Capabilities))
	for _, name := range d.Capabilities {
		if name == "" {
			return types.NewError(types.ErrCodeConfiguration, "capability name in definition is empty")
		}
		if _, dup := seen[name]; dup {
			return types.NewErrorf(types.ErrCodeConfiguration, "capability %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	for i, rule := range d.Validation {
		if rule.Name == "" || rule.Type == "" {
			return types.NewErrorf(types.ErrCodeConfiguration,
				"validation rule %d needs both name and type", i)
		}
	}
	return nil
}

// String implements fmt.Stringer for logging.
func (d *Definition) String() string {
	return fmt.Sprintf("%s@%s", d.Metadata.Name, d.Metadata.Version)
}
