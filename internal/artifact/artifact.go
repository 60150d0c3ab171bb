// Package artifact materializes stage outputs on durable storage keyed by
// provenance. The mapping from key to location is derived, never indexed, so
// a restarted process finds prior cache entries by recomputing the same keys.
package artifact

import (
	"time"

	"fascicle/internal/provenance"
)

// Role names the function an artifact plays in the pipeline.
type Role string

// Raw subject inputs.
const (
	RoleDWI        Role = "dwi"
	RoleBval       Role = "bval"
	RoleBvec       Role = "bvec"
	RoleAnatomical Role = "anat"
)

// Stage outputs.
const (
	RoleCleanedDWI       Role = "cleaned_dwi"
	RoleBrainMask        Role = "brain_mask"
	RoleTractogram       Role = "tractogram"
	RoleScalarMaps       Role = "scalar_maps"
	RoleForwardTransform Role = "xfm_forward"
	RoleInverseTransform Role = "xfm_inverse"
	RoleBundles          Role = "bundles"
	RoleProfiles         Role = "profiles"
)

// Payload is a stage output awaiting storage.
type Payload struct {
	Role Role
	Name string
	Data []byte
}

// File records one stored output with its integrity fingerprint.
type File struct {
	Role   Role   `json:"role"`
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// Entry is a materialized cache entry: the committed outputs of one stage
// invocation under one provenance key.
type Entry struct {
	Key      provenance.Key `json:"key"`
	Subject  string         `json:"subject"`
	StoredAt time.Time      `json:"stored_at"`
	Outputs  []File         `json:"outputs"`

	dir string
}

// Dir returns the directory the entry is materialized under.
func (e *Entry) Dir() string {
	return e.dir
}

// Output returns the stored file metadata for role, if present.
func (e *Entry) Output(role Role) (File, bool) {
	for _, f := range e.Outputs {
		if f.Role == role {
			return f, true
		}
	}
	return File{}, false
}
