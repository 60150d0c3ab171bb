// Package testsupport provides shared fixtures for package tests: temp-dir
// configurations, synthetic subject data, and a deterministic in-process
// toolkit with invocation counters.
package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fascicle/internal/compute"
	"fascicle/internal/config"
	"fascicle/internal/tract"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test,
// including a bundle template file with one template. It applies any provided
// options after the defaults.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.ArtifactDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Cohort.Workers = 2
	cfg.Profiles.Nodes = 10
	cfg.Recognition.TemplatesPath = WriteTemplates(t, filepath.Join(base, "templates.json"), DefaultTemplates())

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithWorkers overrides the cohort worker count.
func WithWorkers(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Cohort.Workers = n
	}
}

// WithSubjects sets the configured cohort subject list.
func WithSubjects(ids ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Cohort.Subjects = ids
	}
}

// DefaultTemplates returns a single-bundle atlas whose centroid runs along
// the z axis, matching the synthetic streamlines WriteSubjectFiles implies.
func DefaultTemplates() []compute.BundleTemplate {
	return []compute.BundleTemplate{
		{Name: "CST_L", Centroid: tract.Streamline{{1, 1, 0}, {1, 1, 4}, {1, 1, 8}}},
	}
}

// WriteTemplates marshals templates to path and returns the path.
func WriteTemplates(t testing.TB, path string, templates []compute.BundleTemplate) string {
	t.Helper()
	data, err := json.Marshal(templates)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
