// Package registration implements the template-alignment stage. It maps the
// subject onto the reference anatomy and produces the forward and inverse
// transforms bundle recognition needs to reach template space.
package registration

import (
	"context"

	"fascicle/internal/artifact"
	"fascicle/internal/compute"
	"fascicle/internal/services"
	"fascicle/internal/stage"
)

const stageID = "registration"

// Handler runs template alignment through the configured registrar.
type Handler struct {
	registrar compute.Registrar
}

// NewHandler returns the registration stage backed by registrar.
func NewHandler(registrar compute.Registrar) *Handler {
	return &Handler{registrar: registrar}
}

// ID identifies the stage in provenance keys and logs.
func (h *Handler) ID() string { return stageID }

// Requires lists the inputs the stage consumes. Registration depends on
// preprocessing but not on tractography, so the two can run in either order.
func (h *Handler) Requires() []artifact.Role {
	return []artifact.Role{artifact.RoleCleanedDWI, artifact.RoleAnatomical}
}

// Produces lists the stage outputs.
func (h *Handler) Produces() []artifact.Role {
	return []artifact.Role{artifact.RoleForwardTransform, artifact.RoleInverseTransform}
}

// Run aligns the subject anatomy to the reference template.
func (h *Handler) Run(ctx context.Context, in stage.Inputs) ([]artifact.Payload, error) {
	template, err := in.Options.String(stageID, "template")
	if err != nil {
		return nil, err
	}
	transform, err := in.Options.String(stageID, "transform")
	if err != nil {
		return nil, err
	}

	cleaned, err := stage.Artifact(stageID, in, artifact.RoleCleanedDWI)
	if err != nil {
		return nil, err
	}
	anat, err := stage.Artifact(stageID, in, artifact.RoleAnatomical)
	if err != nil {
		return nil, err
	}

	out, err := h.registrar.Register(ctx, compute.RegisterInput{
		CleanedDWI: cleaned,
		Anatomical: anat,
		Template:   template,
		Transform:  transform,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrComputation, stageID, "register", "", err)
	}
	if len(out.Forward) == 0 || len(out.Inverse) == 0 {
		return nil, services.Wrap(services.ErrComputation, stageID, "register",
			"registrar returned an empty transform", nil)
	}

	return []artifact.Payload{
		{Role: artifact.RoleForwardTransform, Name: "forward.xfm", Data: out.Forward},
		{Role: artifact.RoleInverseTransform, Name: "inverse.xfm", Data: out.Inverse},
	}, nil
}
