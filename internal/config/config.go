package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	ArtifactDir string `toml:"artifact_dir"`
	LogDir      string `toml:"log_dir"`
}

// Cohort contains scheduling configuration for multi-subject runs.
type Cohort struct {
	Workers  int      `toml:"workers"`
	Subjects []string `toml:"subjects"`
}

// Logging contains log output configuration.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Toolchain contains command templates for the external numerical tools.
// Placeholders {in}, {out}, {mask}, {bvec}, {bval}, {anat}, {template} are
// substituted at execution time.
type Toolchain struct {
	DenoiseCommand  string `toml:"denoise_command"`
	TrackingCommand string `toml:"tracking_command"`
	RegisterCommand string `toml:"register_command"`
}

// Preprocess contains parameters for the denoising/masking stage.
type Preprocess struct {
	Denoise       string  `toml:"denoise"`
	MaskThreshold float64 `toml:"mask_threshold"`
}

// Options returns the stage parameters as a provenance-relevant option map.
func (p Preprocess) Options() map[string]any {
	return map[string]any{
		"denoise":        p.Denoise,
		"mask_threshold": p.MaskThreshold,
	}
}

// Tractography contains parameters for model fitting and streamline generation.
type Tractography struct {
	Model       string  `toml:"model"`
	StepSizeMM  float64 `toml:"step_size_mm"`
	MaxAngleDeg float64 `toml:"max_angle_deg"`
	SeedDensity int     `toml:"seed_density"`
	MinLengthMM float64 `toml:"min_length_mm"`
}

// Options returns the stage parameters as a provenance-relevant option map.
func (t Tractography) Options() map[string]any {
	return map[string]any{
		"model":         t.Model,
		"step_size_mm":  t.StepSizeMM,
		"max_angle_deg": t.MaxAngleDeg,
		"seed_density":  t.SeedDensity,
		"min_length_mm": t.MinLengthMM,
	}
}

// Registration contains parameters for template alignment.
type Registration struct {
	Template  string `toml:"template"`
	Transform string `toml:"transform"`
}

// Options returns the stage parameters as a provenance-relevant option map.
func (r Registration) Options() map[string]any {
	return map[string]any{
		"template":  r.Template,
		"transform": r.Transform,
	}
}

// Recognition contains parameters for bundle recognition.
type Recognition struct {
	TemplatesPath string  `toml:"templates_path"`
	Membership    string  `toml:"membership"`
	MaxDistanceMM float64 `toml:"max_distance_mm"`
}

// Options returns the stage parameters as a provenance-relevant option map.
func (r Recognition) Options() map[string]any {
	return map[string]any{
		"templates_path":  r.TemplatesPath,
		"membership":      r.Membership,
		"max_distance_mm": r.MaxDistanceMM,
	}
}

// Profiles contains parameters for tract profile extraction.
type Profiles struct {
	Nodes      int      `toml:"nodes"`
	Properties []string `toml:"properties"`
	Weighting  string   `toml:"weighting"`
}

// Options returns the stage parameters as a provenance-relevant option map.
func (p Profiles) Options() map[string]any {
	return map[string]any{
		"nodes":      p.Nodes,
		"properties": p.Properties,
		"weighting":  p.Weighting,
	}
}

// Config is the root configuration for a fascicle run.
type Config struct {
	Paths        Paths        `toml:"paths"`
	Cohort       Cohort       `toml:"cohort"`
	Logging      Logging      `toml:"logging"`
	Toolchain    Toolchain    `toml:"toolchain"`
	Preprocess   Preprocess   `toml:"preprocess"`
	Tractography Tractography `toml:"tractography"`
	Registration Registration `toml:"registration"`
	Recognition  Recognition  `toml:"recognition"`
	Profiles     Profiles     `toml:"profiles"`

	// Overrides maps subject id -> stage name -> option name -> value.
	Overrides map[string]map[string]map[string]any `toml:"overrides"`
}

// StageNames returns the pipeline stage names in canonical execution order.
func StageNames() []string {
	return []string{"preprocess", "tractography", "registration", "recognition", "profiles"}
}

// StageOptions returns the configured option map for the named stage.
func (c *Config) StageOptions(stage string) (map[string]any, bool) {
	switch stage {
	case "preprocess":
		return c.Preprocess.Options(), true
	case "tractography":
		return c.Tractography.Options(), true
	case "registration":
		return c.Registration.Options(), true
	case "recognition":
		return c.Recognition.Options(), true
	case "profiles":
		return c.Profiles.Options(), true
	default:
		return nil, false
	}
}

// DefaultConfigPath returns the user-level configuration file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fascicle", "config.toml"), nil
}

// Load reads, normalizes, and validates configuration from path. A missing
// file yields defaults so fresh installs work without `config init`.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sample returns the embedded sample configuration document.
func Sample() string {
	return sampleConfig
}

// WriteSample writes the sample configuration to path, refusing to overwrite.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the directories the run needs.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ArtifactDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LedgerPath returns the run ledger database location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.LogDir, "ledger.db")
}
