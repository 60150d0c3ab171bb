// Package compute defines the narrow interfaces through which the pipeline
// invokes its external numerical routines: denoising, tractography,
// registration, streamline classification, and profile aggregation. The
// orchestration core treats implementations as pure black boxes, which keeps
// it testable with deterministic stand-ins.
package compute

import (
	"context"
	"errors"

	"fascicle/internal/tract"
)

// PreprocessInput carries the raw diffusion data into denoising/masking.
type PreprocessInput struct {
	DWI           []byte
	Bval          []byte
	Bvec          []byte
	Method        string
	MaskThreshold float64
}

// PreprocessOutput is the cleaned volume and brain mask.
type PreprocessOutput struct {
	CleanedDWI []byte
	BrainMask  []byte
}

// Preprocessor denoises and masks the raw diffusion volume.
type Preprocessor interface {
	Denoise(ctx context.Context, in PreprocessInput) (PreprocessOutput, error)
}

// TrackInput carries the cleaned volume into model fitting and tracking.
type TrackInput struct {
	CleanedDWI  []byte
	BrainMask   []byte
	Bval        []byte
	Bvec        []byte
	Model       string
	StepSizeMM  float64
	MaxAngleDeg float64
	SeedDensity int
	MinLengthMM float64
}

// TrackOutput is the whole-brain streamline set plus the tissue-property
// maps derived from the fitted diffusion model.
type TrackOutput struct {
	Tractogram tract.Tractogram
	ScalarMaps map[string]tract.ScalarMap
}

// Tracker fits the diffusion model and generates streamlines.
type Tracker interface {
	Track(ctx context.Context, in TrackInput) (TrackOutput, error)
}

// RegisterInput carries the subject anatomy into template alignment.
type RegisterInput struct {
	CleanedDWI []byte
	Anatomical []byte
	Template   string
	Transform  string
}

// RegisterOutput holds the forward and inverse spatial transforms.
type RegisterOutput struct {
	Forward []byte
	Inverse []byte
}

// Registrar aligns the subject to the reference template.
type Registrar interface {
	Register(ctx context.Context, in RegisterInput) (RegisterOutput, error)
}

// BundleTemplate is one canonical tract's reference centroid in template
// space.
type BundleTemplate struct {
	Name     string           `json:"name"`
	Centroid tract.Streamline `json:"centroid"`
}

// RecognizeInput carries streamlines, the registration transform, and the
// atlas templates into classification.
type RecognizeInput struct {
	Tractogram    tract.Tractogram
	Forward       []byte
	Templates     []BundleTemplate
	Membership    string
	MaxDistanceMM float64
}

// RecognizeOutput is the per-bundle streamline assignment. Unassigned counts
// streamlines matched to no template; they never reach profile extraction.
type RecognizeOutput struct {
	Bundles    []tract.Bundle
	Unassigned int
}

// Recognizer classifies streamlines into named bundles.
type Recognizer interface {
	Recognize(ctx context.Context, in RecognizeInput) (RecognizeOutput, error)
}

// ProfileInput carries recognized bundles and tissue-property maps into
// profile aggregation.
type ProfileInput struct {
	Bundles    []tract.Bundle
	ScalarMaps map[string]tract.ScalarMap
	Nodes      int
	Properties []string
	Weighting  string
}

// ProfileOutput is the per-bundle, per-property tract profiles.
type ProfileOutput struct {
	Profiles []tract.Profile
}

// Profiler resamples bundles and aggregates tissue properties along them.
type Profiler interface {
	Profile(ctx context.Context, in ProfileInput) (ProfileOutput, error)
}

// Toolkit bundles the five collaborators a pipeline needs.
type Toolkit struct {
	Preprocessor Preprocessor
	Tracker      Tracker
	Registrar    Registrar
	Recognizer   Recognizer
	Profiler     Profiler
}

// Validate ensures every collaborator is present.
func (t Toolkit) Validate() error {
	switch {
	case t.Preprocessor == nil:
		return errors.New("toolkit: preprocessor is required")
	case t.Tracker == nil:
		return errors.New("toolkit: tracker is required")
	case t.Registrar == nil:
		return errors.New("toolkit: registrar is required")
	case t.Recognizer == nil:
		return errors.New("toolkit: recognizer is required")
	case t.Profiler == nil:
		return errors.New("toolkit: profiler is required")
	default:
		return nil
	}
}
