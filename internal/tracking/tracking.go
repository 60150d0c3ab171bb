// Package tracking implements the model-fitting and tractography stage. It
// consumes the cleaned diffusion volume and emits the whole-brain streamline
// set along with the tissue-property maps derived from the fitted model.
package tracking

import (
	"context"
	"fmt"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/services"
	"fascicle/internal/stage"
)

const stageID = "tractography"

// Handler runs model fitting and streamline generation through the
// configured tracker.
type Handler struct {
	tracker compute.Tracker
}

// NewHandler returns the tractography stage backed by tracker.
func NewHandler(tracker compute.Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// ID identifies the stage in provenance keys and logs.
func (h *Handler) ID() string { return stageID }

// Requires lists the inputs the stage consumes. The gradient table rides
// alongside the cleaned volume because model fitting re-reads it.
func (h *Handler) Requires() []artifact.Role {
	return []artifact.Role{
		artifact.RoleCleanedDWI,
		artifact.RoleBrainMask,
		artifact.RoleBval,
		artifact.RoleBvec,
	}
}

// Produces lists the stage outputs.
func (h *Handler) Produces() []artifact.Role {
	return []artifact.Role{artifact.RoleTractogram, artifact.RoleScalarMaps}
}

// Run fits the diffusion model and generates the whole-brain tractogram.
func (h *Handler) Run(ctx context.Context, in stage.Inputs) ([]artifact.Payload, error) {
	model, err := in.Options.String(stageID, "model")
	if err != nil {
		return nil, err
	}
	stepSize, err := in.Options.Float(stageID, "step_size_mm")
	if err != nil {
		return nil, err
	}
	maxAngle, err := in.Options.Float(stageID, "max_angle_deg")
	if err != nil {
		return nil, err
	}
	seeds, err := in.Options.Int(stageID, "seed_density")
	if err != nil {
		return nil, err
	}
	minLength, err := in.Options.Float(stageID, "min_length_mm")
	if err != nil {
		return nil, err
	}

	cleaned, err := stage.Artifact(stageID, in, artifact.RoleCleanedDWI)
	if err != nil {
		return nil, err
	}
	mask, err := stage.Artifact(stageID, in, artifact.RoleBrainMask)
	if err != nil {
		return nil, err
	}
	bval, err := stage.Artifact(stageID, in, artifact.RoleBval)
	if err != nil {
		return nil, err
	}
	bvec, err := stage.Artifact(stageID, in, artifact.RoleBvec)
	if err != nil {
		return nil, err
	}

	out, err := h.tracker.Track(ctx, compute.TrackInput{
		CleanedDWI:  cleaned,
		BrainMask:   mask,
		Bval:        bval,
		Bvec:        bvec,
		Model:       model,
		StepSizeMM:  stepSize,
		MaxAngleDeg: maxAngle,
		SeedDensity: seeds,
		MinLengthMM: minLength,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrComputation, stageID, "track", "", err)
	}
	if len(out.Tractogram.Streamlines) == 0 {
		return nil, services.Wrap(services.ErrComputation, stageID, "track",
			fmt.Sprintf("no streamlines survived tracking (min_length_mm=%g)", minLength), nil)
	}
	for _, sm := range out.ScalarMaps {
		if err := sm.Validate(); err != nil {
			return nil, services.Wrap(services.ErrData, stageID, "track",
				"tracker returned inconsistent scalar map", err)
		}
	}

	tractogram, err := stage.EncodeJSON(stageID, out.Tractogram)
	if err != nil {
		return nil, err
	}
	scalars, err := stage.EncodeJSON(stageID, out.ScalarMaps)
	if err != nil {
		return nil, err
	}

	return []artifact.Payload{
		{Role: artifact.RoleTractogram, Name: "tractogram.json", Data: tractogram},
		{Role: artifact.RoleScalarMaps, Name: "scalar_maps.json", Data: scalars},
	}, nil
}
