// Package toolchain adapts external neuroimaging command-line tools to the
// compute collaborator interfaces. Each stage's command is a configurable
// template; inputs are staged into a scratch directory, placeholders are
// substituted with concrete paths and parameter values, and declared outputs
// are read back after the tool exits.
package toolchain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"fascicle/internal/compute"
	"fascicle/internal/tract"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) error
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", binary, err, tail(output.String(), 512))
	}
	return nil
}

// Config holds the command templates for the volume-bound stages.
type Config struct {
	DenoiseCommand  string
	TrackingCommand string
	RegisterCommand string
}

// Option configures the toolchain.
type Option func(*Tools)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(executor Executor) Option {
	return func(t *Tools) {
		if executor != nil {
			t.exec = executor
		}
	}
}

// Tools implements the Preprocessor, Tracker, and Registrar collaborators by
// shelling out to the configured external commands.
type Tools struct {
	cfg  Config
	exec Executor
}

// New constructs a toolchain from command templates.
func New(cfg Config, opts ...Option) *Tools {
	tools := &Tools{cfg: cfg, exec: commandExecutor{}}
	for _, opt := range opts {
		opt(tools)
	}
	return tools
}

// Denoise runs the configured denoising command.
func (t *Tools) Denoise(ctx context.Context, in compute.PreprocessInput) (compute.PreprocessOutput, error) {
	if strings.TrimSpace(t.cfg.DenoiseCommand) == "" {
		return compute.PreprocessOutput{}, errors.New("toolchain: denoise_command not configured")
	}
	work, cleanup, err := stageInputs(map[string][]byte{
		"dwi.nii.gz": in.DWI,
		"dwi.bval":   in.Bval,
		"dwi.bvec":   in.Bvec,
	})
	if err != nil {
		return compute.PreprocessOutput{}, err
	}
	defer cleanup()

	substitutions := map[string]string{
		"{in}":             filepath.Join(work, "dwi.nii.gz"),
		"{bval}":           filepath.Join(work, "dwi.bval"),
		"{bvec}":           filepath.Join(work, "dwi.bvec"),
		"{out}":            filepath.Join(work, "cleaned.nii.gz"),
		"{mask}":           filepath.Join(work, "mask.nii.gz"),
		"{method}":         in.Method,
		"{mask_threshold}": formatFloat(in.MaskThreshold),
	}
	if err := t.run(ctx, t.cfg.DenoiseCommand, substitutions); err != nil {
		return compute.PreprocessOutput{}, err
	}

	cleaned, err := os.ReadFile(filepath.Join(work, "cleaned.nii.gz"))
	if err != nil {
		return compute.PreprocessOutput{}, fmt.Errorf("denoise produced no cleaned volume: %w", err)
	}
	mask, err := os.ReadFile(filepath.Join(work, "mask.nii.gz"))
	if err != nil {
		return compute.PreprocessOutput{}, fmt.Errorf("denoise produced no brain mask: %w", err)
	}
	return compute.PreprocessOutput{CleanedDWI: cleaned, BrainMask: mask}, nil
}

// Track runs the configured tracking command. The tool must write the
// tractogram and scalar maps as JSON documents at {out} and {scalars}.
func (t *Tools) Track(ctx context.Context, in compute.TrackInput) (compute.TrackOutput, error) {
	if strings.TrimSpace(t.cfg.TrackingCommand) == "" {
		return compute.TrackOutput{}, errors.New("toolchain: tracking_command not configured")
	}
	work, cleanup, err := stageInputs(map[string][]byte{
		"cleaned.nii.gz": in.CleanedDWI,
		"mask.nii.gz":    in.BrainMask,
		"dwi.bval":       in.Bval,
		"dwi.bvec":       in.Bvec,
	})
	if err != nil {
		return compute.TrackOutput{}, err
	}
	defer cleanup()

	substitutions := map[string]string{
		"{in}":         filepath.Join(work, "cleaned.nii.gz"),
		"{mask}":       filepath.Join(work, "mask.nii.gz"),
		"{bval}":       filepath.Join(work, "dwi.bval"),
		"{bvec}":       filepath.Join(work, "dwi.bvec"),
		"{out}":        filepath.Join(work, "tractogram.json"),
		"{scalars}":    filepath.Join(work, "scalars.json"),
		"{model}":      in.Model,
		"{step_size}":  formatFloat(in.StepSizeMM),
		"{max_angle}":  formatFloat(in.MaxAngleDeg),
		"{seeds}":      strconv.Itoa(in.SeedDensity),
		"{min_length}": formatFloat(in.MinLengthMM),
	}
	if err := t.run(ctx, t.cfg.TrackingCommand, substitutions); err != nil {
		return compute.TrackOutput{}, err
	}

	var out compute.TrackOutput
	if err := readJSON(filepath.Join(work, "tractogram.json"), &out.Tractogram); err != nil {
		return compute.TrackOutput{}, fmt.Errorf("tracking produced no tractogram: %w", err)
	}
	scalars := make(map[string]tract.ScalarMap)
	if err := readJSON(filepath.Join(work, "scalars.json"), &scalars); err != nil {
		return compute.TrackOutput{}, fmt.Errorf("tracking produced no scalar maps: %w", err)
	}
	out.ScalarMaps = scalars
	return out, nil
}

// Register runs the configured registration command.
func (t *Tools) Register(ctx context.Context, in compute.RegisterInput) (compute.RegisterOutput, error) {
	if strings.TrimSpace(t.cfg.RegisterCommand) == "" {
		return compute.RegisterOutput{}, errors.New("toolchain: register_command not configured")
	}
	work, cleanup, err := stageInputs(map[string][]byte{
		"cleaned.nii.gz": in.CleanedDWI,
		"anat.nii.gz":    in.Anatomical,
	})
	if err != nil {
		return compute.RegisterOutput{}, err
	}
	defer cleanup()

	substitutions := map[string]string{
		"{in}":        filepath.Join(work, "cleaned.nii.gz"),
		"{anat}":      filepath.Join(work, "anat.nii.gz"),
		"{fwd}":       filepath.Join(work, "forward.h5"),
		"{inv}":       filepath.Join(work, "inverse.h5"),
		"{template}":  in.Template,
		"{transform}": in.Transform,
	}
	if err := t.run(ctx, t.cfg.RegisterCommand, substitutions); err != nil {
		return compute.RegisterOutput{}, err
	}

	forward, err := os.ReadFile(filepath.Join(work, "forward.h5"))
	if err != nil {
		return compute.RegisterOutput{}, fmt.Errorf("registration produced no forward transform: %w", err)
	}
	inverse, err := os.ReadFile(filepath.Join(work, "inverse.h5"))
	if err != nil {
		return compute.RegisterOutput{}, fmt.Errorf("registration produced no inverse transform: %w", err)
	}
	return compute.RegisterOutput{Forward: forward, Inverse: inverse}, nil
}

func (t *Tools) run(ctx context.Context, template string, substitutions map[string]string) error {
	binary, args, err := expandCommand(template, substitutions)
	if err != nil {
		return err
	}
	return t.exec.Run(ctx, binary, args)
}

// expandCommand substitutes placeholders and splits the template into a
// binary and arguments. Templates are whitespace-split; paths with spaces
// are not supported.
func expandCommand(template string, substitutions map[string]string) (string, []string, error) {
	pairs := make([]string, 0, len(substitutions)*2)
	for placeholder, value := range substitutions {
		pairs = append(pairs, placeholder, value)
	}
	expanded := strings.NewReplacer(pairs...).Replace(template)

	fields := strings.Fields(expanded)
	if len(fields) == 0 {
		return "", nil, errors.New("toolchain: empty command after expansion")
	}
	return fields[0], fields[1:], nil
}

func stageInputs(files map[string][]byte) (string, func(), error) {
	work, err := os.MkdirTemp("", "fascicle-tool-*")
	if err != nil {
		return "", nil, fmt.Errorf("create tool workspace: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(work) }
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(work, name), data, 0o644); err != nil {
			cleanup()
			return "", nil, fmt.Errorf("stage tool input %s: %w", name, err)
		}
	}
	return work, cleanup, nil
}

func readJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
