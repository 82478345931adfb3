package loop

import (
	"testing"
	"time"
)

func baseDefinition() *Definition {
	return &Definition{
		Metadata: Metadata{Name: "test-loop", Version: "1.0.0"},
		Models:   ModelSet{Default: "gpt-4o"},
		Runtime:  RuntimeConfig{MaxIterations: 5},
	}
}

func TestFromDefinitionEnablement(t *testing.T) {
	def := baseDefinition()
	cfg, err := FromDefinition(def)
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}

	// execution and observe are always on
	if !cfg.IsModuleEnabled(ModuleExecution) || !cfg.IsModuleEnabled(ModuleObserve) {
		t.Error("execution and observe must be enabled")
	}
	// planning needs an enabled planning section
	if cfg.IsModuleEnabled(ModulePlanning) {
		t.Error("planning should be off without a planning section")
	}
	// reflection defaults off
	if cfg.IsModuleEnabled(ModuleReflection) {
		t.Error("reflection should default to disabled")
	}
	if cfg.IsModuleEnabled(ModuleValidation) {
		t.Error("validation should be off without rules")
	}
	if cfg.IsModuleEnabled("bogus") {
		t.Error("unknown modules are never enabled")
	}
}

func TestFromDefinitionValidationNeedsActiveRules(t *testing.T) {
	disabled := false

	def := baseDefinition()
	def.Runtime.EnableValidation = true
	def.Validation = []ValidationRule{{Name: "r1", Type: "output", Enabled: &disabled}}
	cfg, err := FromDefinition(def)
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}
	if cfg.IsModuleEnabled(ModuleValidation) {
		t.Error("validation with only disabled rules should stay off")
	}

	def.Validation = append(def.Validation, ValidationRule{Name: "r2", Type: "output"})
	cfg, err = FromDefinition(def)
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}
	if !cfg.IsModuleEnabled(ModuleValidation) {
		t.Error("validation with an active rule should be on")
	}
	vc, _ := cfg.ModuleFor(ModuleValidation)
	if len(vc.(ValidationConfig).Rules) != 1 {
		t.Errorf("only active rules should be kept, got %d", len(vc.(ValidationConfig).Rules))
	}
}

func TestFromDefinitionModelFallback(t *testing.T) {
	def := baseDefinition()
	def.Models.Planning = "gpt-4o-mini"
	def.Planning = &PlanningSection{Enabled: true}
	def.Runtime.EnableReflection = true

	cfg, err := FromDefinition(def)
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}

	pc, _ := cfg.ModuleFor(ModulePlanning)
	if pc.Model() != "gpt-4o-mini" {
		t.Errorf("planning model: got %q, want module override", pc.Model())
	}
	rc, _ := cfg.ModuleFor(ModuleReflection)
	if rc.Model() != "gpt-4o" {
		t.Errorf("reflection model: got %q, want default fallback", rc.Model())
	}
}

func TestFromDefinitionOptionsWinLast(t *testing.T) {
	def := baseDefinition()
	def.Runtime.TimeoutSeconds = 30

	cfg, err := FromDefinition(def,
		WithModel("gpt-4-turbo"),
		WithMaxIterations(2),
		WithStepTimeout(5*time.Second),
		WithModuleEnabled(ModuleReflection, true),
	)
	if err != nil {
		t.Fatalf("from definition: %v", err)
	}

	if cfg.Model() != "gpt-4-turbo" {
		t.Errorf("model override: got %q", cfg.Model())
	}
	if cfg.MaxIterations() != 2 {
		t.Errorf("iterations override: got %d", cfg.MaxIterations())
	}
	if cfg.StepTimeout() != 5*time.Second {
		t.Errorf("step timeout override: got %s", cfg.StepTimeout())
	}
	if !cfg.IsModuleEnabled(ModuleReflection) {
		t.Error("module enablement override should win")
	}
	if _, ok := cfg.ModuleFor(ModuleReflection); !ok {
		t.Error("force-enabled module should have a config")
	}
}

func TestFromDefinitionIsPure(t *testing.T) {
	def := baseDefinition()
	def.Planning = &PlanningSection{Enabled: true}
	def.Capabilities = []string{"a", "b"}

	c1, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}

	if c1.Model() != c2.Model() || c1.MaxIterations() != c2.MaxIterations() {
		t.Error("same definition must resolve identically")
	}
	m1 := c1.EnabledModules()
	m2 := c2.EnabledModules()
	if len(m1) != len(m2) {
		t.Fatalf("enabled modules diverged: %v vs %v", m1, m2)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			t.Errorf("module order diverged at %d", i)
		}
	}

	// mutating a returned slice must not leak into the config
	caps := c1.Capabilities()
	caps[0] = "mutated"
	if c1.Capabilities()[0] != "a" {
		t.Error("Capabilities must return a copy")
	}
}

func TestEnabledModulesOrder(t *testing.T) {
	def := baseDefinition()
	def.Planning = &PlanningSection{Enabled: true}
	def.Runtime.EnableReflection = true

	cfg, err := FromDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	want := []ModuleName{ModulePlanning, ModuleExecution, ModuleReflection, ModuleObserve}
	got := cfg.EnabledModules()
	if len(got) != len(want) {
		t.Fatalf("enabled: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}
