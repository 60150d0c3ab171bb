// Package preprocess implements the denoising and brain-masking stage. It
// consumes the raw diffusion volume with its gradient table and produces the
// cleaned volume and binary mask every downstream stage builds on.
package preprocess

import (
	"context"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/services"
	"fascicle/internal/stage"
)

const stageID = "preprocess"

// Handler runs denoising and masking through the configured preprocessor.
type Handler struct {
	pre compute.Preprocessor
}

// NewHandler returns the preprocess stage backed by pre.
func NewHandler(pre compute.Preprocessor) *Handler {
	return &Handler{pre: pre}
}

// ID identifies the stage in provenance keys and logs.
func (h *Handler) ID() string { return stageID }

// Requires lists the raw subject inputs the stage consumes.
func (h *Handler) Requires() []artifact.Role {
	return []artifact.Role{artifact.RoleDWI, artifact.RoleBval, artifact.RoleBvec}
}

// Produces lists the stage outputs.
func (h *Handler) Produces() []artifact.Role {
	return []artifact.Role{artifact.RoleCleanedDWI, artifact.RoleBrainMask}
}

// Run denoises the raw volume and computes the brain mask.
func (h *Handler) Run(ctx context.Context, in stage.Inputs) ([]artifact.Payload, error) {
	method, err := in.Options.String(stageID, "denoise")
	if err != nil {
		return nil, err
	}
	threshold, err := in.Options.Float(stageID, "mask_threshold")
	if err != nil {
		return nil, err
	}

	dwi, err := stage.Artifact(stageID, in, artifact.RoleDWI)
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

	out, err := h.pre.Denoise(ctx, compute.PreprocessInput{
		DWI:           dwi,
		Bval:          bval,
		Bvec:          bvec,
		Method:        method,
		MaskThreshold: threshold,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrComputation, stageID, "denoise", "", err)
	}
	if len(out.CleanedDWI) == 0 || len(out.BrainMask) == 0 {
		return nil, services.Wrap(services.ErrComputation, stageID, "denoise",
			"preprocessor returned an empty volume or mask", nil)
	}

	return []artifact.Payload{
		{Role: artifact.RoleCleanedDWI, Name: "cleaned.nii.gz", Data: out.CleanedDWI},
		{Role: artifact.RoleBrainMask, Name: "mask.nii.gz", Data: out.BrainMask},
	}, nil
}
