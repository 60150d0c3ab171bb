// Package profiling implements the tract-profile stage. It resamples each
// recognized bundle to a fixed node count and aggregates tissue properties
// along it, producing the per-bundle, per-property profiles that are the
// pipeline's terminal output.
package profiling

import (
	"context"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/services"
	"fascicle/internal/stage"
	"fascicle/internal/tract"
)

const stageID = "profiles"

// Handler extracts tract profiles through the configured profiler.
type Handler struct {
	profiler compute.Profiler
}

// NewHandler returns the profiles stage backed by profiler.
func NewHandler(profiler compute.Profiler) *Handler {
	return &Handler{profiler: profiler}
}

// ID identifies the stage in provenance keys and logs.
func (h *Handler) ID() string { return stageID }

// Requires lists the inputs the stage consumes.
func (h *Handler) Requires() []artifact.Role {
	return []artifact.Role{artifact.RoleBundles, artifact.RoleScalarMaps}
}

// Produces lists the stage outputs.
func (h *Handler) Produces() []artifact.Role {
	return []artifact.Role{artifact.RoleProfiles}
}

// Run aggregates tissue properties along each recognized bundle. A subject
// with no recognized bundles yields an empty profile set, not a failure.
func (h *Handler) Run(ctx context.Context, in stage.Inputs) ([]artifact.Payload, error) {
	nodes, err := in.Options.Int(stageID, "nodes")
	if err != nil {
		return nil, err
	}
	properties, err := in.Options.Strings(stageID, "properties")
	if err != nil {
		return nil, err
	}
	weighting, err := in.Options.String(stageID, "weighting")
	if err != nil {
		return nil, err
	}

	var recognized compute.RecognizeOutput
	if err := stage.DecodeJSON(stageID, in, artifact.RoleBundles, &recognized); err != nil {
		return nil, err
	}
	var scalars map[string]tract.ScalarMap
	if err := stage.DecodeJSON(stageID, in, artifact.RoleScalarMaps, &scalars); err != nil {
		return nil, err
	}
	for _, property := range properties {
		if _, ok := scalars[property]; !ok {
			return nil, services.Wrap(services.ErrData, stageID, "inputs",
				"requested property "+property+" has no scalar map", nil)
		}
	}
	for _, sm := range scalars {
		if err := sm.Validate(); err != nil {
			return nil, services.Wrap(services.ErrData, stageID, "inputs",
				"inconsistent scalar map", err)
		}
	}

	out, err := h.profiler.Profile(ctx, compute.ProfileInput{
		Bundles:    recognized.Bundles,
		ScalarMaps: scalars,
		Nodes:      nodes,
		Properties: properties,
		Weighting:  weighting,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrComputation, stageID, "profile", "", err)
	}

	profiles, err := stage.EncodeJSON(stageID, out.Profiles)
	if err != nil {
		return nil, err
	}
	return []artifact.Payload{
		{Role: artifact.RoleProfiles, Name: "profiles.json", Data: profiles},
	}, nil
}
