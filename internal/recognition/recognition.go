// Package recognition implements the bundle-recognition stage. It classifies
// whole-brain streamlines against the atlas bundle templates and emits the
// named bundles with their membership weights.
package recognition

import (
	"context"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/fileutil"
	"fascicle/internal/provenance"
	"fascicle/internal/services"
	"fascicle/internal/stage"
	"fascicle/internal/tract"
)

const stageID = "recognition"

// Handler classifies streamlines through the configured recognizer. The
// atlas templates are loaded once at construction and their file fingerprint
// participates in the stage's provenance, so editing the template file
// invalidates cached recognitions.
type Handler struct {
	recognizer  compute.Recognizer
	templates   []compute.BundleTemplate
	fingerprint string
}

// NewHandler loads the bundle templates from templatesPath and returns the
// recognition stage backed by recognizer.
func NewHandler(recognizer compute.Recognizer, templatesPath string) (*Handler, error) {
	if templatesPath == "" {
		return nil, services.Wrap(services.ErrConfiguration, stageID, "templates",
			"recognition.templates_path is not set", nil)
	}
	templates, err := compute.LoadTemplates(templatesPath)
	if err != nil {
		return nil, services.Wrap(services.ErrData, stageID, "templates",
			"load bundle templates from "+templatesPath, err)
	}
	fingerprint, _, err := fileutil.SHA256File(templatesPath)
	if err != nil {
		return nil, services.Wrap(services.ErrData, stageID, "templates",
			"fingerprint bundle templates", err)
	}
	return &Handler{
		recognizer:  recognizer,
		templates:   templates,
		fingerprint: fingerprint,
	}, nil
}

// ID identifies the stage in provenance keys and logs.
func (h *Handler) ID() string { return stageID }

// Requires lists the inputs the stage consumes.
func (h *Handler) Requires() []artifact.Role {
	return []artifact.Role{artifact.RoleTractogram, artifact.RoleForwardTransform}
}

// Produces lists the stage outputs.
func (h *Handler) Produces() []artifact.Role {
	return []artifact.Role{artifact.RoleBundles}
}

// SourceKeys folds the template file's content fingerprint into the stage's
// upstream provenance.
func (h *Handler) SourceKeys() []provenance.Key {
	return []provenance.Key{provenance.SourceKey("bundle_templates", h.fingerprint)}
}

// Run classifies the whole-brain tractogram into named bundles.
func (h *Handler) Run(ctx context.Context, in stage.Inputs) ([]artifact.Payload, error) {
	membership, err := in.Options.String(stageID, "membership")
	if err != nil {
		return nil, err
	}
	maxDistance, err := in.Options.Float(stageID, "max_distance_mm")
	if err != nil {
		return nil, err
	}

	var tractogram tract.Tractogram
	if err := stage.DecodeJSON(stageID, in, artifact.RoleTractogram, &tractogram); err != nil {
		return nil, err
	}
	forward, err := stage.Artifact(stageID, in, artifact.RoleForwardTransform)
	if err != nil {
		return nil, err
	}

	out, err := h.recognizer.Recognize(ctx, compute.RecognizeInput{
		Tractogram:    tractogram,
		Forward:       forward,
		Templates:     h.templates,
		Membership:    membership,
		MaxDistanceMM: maxDistance,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrComputation, stageID, "recognize", "", err)
	}

	bundles, err := stage.EncodeJSON(stageID, out)
	if err != nil {
		return nil, err
	}
	return []artifact.Payload{
		{Role: artifact.RoleBundles, Name: "bundles.json", Data: bundles},
	}, nil
}
