// Package stage defines the contract each pipeline stage implements and the
// helpers stages share for input decoding and error tagging.
package stage

import (
	"context"
	"encoding/json"

	"fascicle/internal/artifact"
	"fascicle/internal/params"
	"fascicle/internal/provenance"
	"fascicle/internal/services"
	"fascicle/internal/subject"
)

// Inputs carries everything a stage needs for one invocation: the subject,
// the stage's resolved options, and the upstream artifact bytes keyed by
// role.
type Inputs struct {
	Subject   *subject.Subject
	Options   params.Options
	Artifacts map[artifact.Role][]byte
}

// Handler is the contract the pipeline graph needs from each stage variant.
// Run must not touch the artifact store; it returns payloads and the graph
// stores them.
type Handler interface {
	ID() string
	Requires() []artifact.Role
	Produces() []artifact.Role
	Run(ctx context.Context, in Inputs) ([]artifact.Payload, error)
}

// SourceKeyed is implemented by stages whose provenance depends on reference
// data outside the artifact graph, e.g. shared bundle templates. The graph
// folds these keys into the stage's upstream set.
type SourceKeyed interface {
	SourceKeys() []provenance.Key
}

// Artifact returns the bytes bound for role, failing with a data error when
// the upstream artifact is absent.
func Artifact(stageID string, in Inputs, role artifact.Role) ([]byte, error) {
	data, ok := in.Artifacts[role]
	if !ok || len(data) == 0 {
		return nil, services.Wrap(services.ErrData, stageID, "inputs",
			"required input artifact "+string(role)+" is missing", nil)
	}
	return data, nil
}

// DecodeJSON unmarshals an upstream artifact into target, failing with a
// data error on malformed content.
func DecodeJSON(stageID string, in Inputs, role artifact.Role, target any) error {
	data, err := Artifact(stageID, in, role)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return services.Wrap(services.ErrData, stageID, "inputs",
			"decode input artifact "+string(role), err)
	}
	return nil
}

// EncodeJSON marshals a stage output for storage, failing with a computation
// error since only a malformed in-memory result can trigger it.
func EncodeJSON(stageID string, value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, services.Wrap(services.ErrComputation, stageID, "encode output", "", err)
	}
	return data, nil
}
