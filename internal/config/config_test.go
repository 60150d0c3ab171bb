package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fascicle/internal/config"
)

func TestDefaultValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Profiles.Nodes != 100 {
		t.Fatalf("expected default profile nodes, got %d", cfg.Profiles.Nodes)
	}
	if cfg.Cohort.Workers != 4 {
		t.Fatalf("expected default workers, got %d", cfg.Cohort.Workers)
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	doc := `
[paths]
data_dir = "/data"
artifact_dir = "/tmp/artifacts"
log_dir = "/tmp/logs"

[tractography]
step_size_mm = 0.75

[overrides.sub-02.tractography]
step_size_mm = 1.25
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tractography.StepSizeMM != 0.75 {
		t.Fatalf("step size = %v", cfg.Tractography.StepSizeMM)
	}
	override, ok := cfg.Overrides["sub-02"]["tractography"]
	if !ok {
		t.Fatalf("expected override for sub-02, got %#v", cfg.Overrides)
	}
	if override["step_size_mm"] != 1.25 {
		t.Fatalf("override step size = %v", override["step_size_mm"])
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero workers", func(c *config.Config) { c.Cohort.Workers = 0 }},
		{"negative step size", func(c *config.Config) { c.Tractography.StepSizeMM = -1 }},
		{"excessive angle", func(c *config.Config) { c.Tractography.MaxAngleDeg = 120 }},
		{"bad membership", func(c *config.Config) { c.Recognition.Membership = "fuzzy" }},
		{"one profile node", func(c *config.Config) { c.Profiles.Nodes = 1 }},
		{"no properties", func(c *config.Config) { c.Profiles.Properties = nil }},
		{"bad weighting", func(c *config.Config) { c.Profiles.Weighting = "quadratic" }},
		{"missing artifact dir", func(c *config.Config) { c.Paths.ArtifactDir = "" }},
	}
	for _, tc := range cases {
		cfg := config.Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestStageOptionsKnownStages(t *testing.T) {
	cfg := config.Default()
	for _, stage := range []string{"preprocess", "tractography", "registration", "recognition", "profiles"} {
		opts, ok := cfg.StageOptions(stage)
		if !ok || len(opts) == 0 {
			t.Errorf("expected options for stage %s", stage)
		}
	}
	if _, ok := cfg.StageOptions("unknown"); ok {
		t.Error("expected miss for unknown stage")
	}
}

func TestWriteSampleRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[tractography]") {
		t.Fatal("sample config missing tractography section")
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected overwrite refusal")
	}
}
