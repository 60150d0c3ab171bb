// Package subject models one study participant's raw inputs: the diffusion
// volume, its gradient table, and the anatomical reference. Inputs are
// fingerprinted at load time so provenance keys reflect content, and they are
// immutable for the lifetime of a run.
package subject

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"fascicle/internal/artifact"
	"fascicle/internal/fileutil"
	"fascicle/internal/provenance"
	"fascicle/internal/services"
)

// Input is one raw file supplied for a subject.
type Input struct {
	Role        artifact.Role
	Path        string
	Fingerprint string
	Size        int64
}

// Subject is a participant's identity plus its loaded raw inputs.
type Subject struct {
	ID      string
	Session string
	Inputs  map[artifact.Role]Input
}

// Key returns the identity used for storage scoping and reporting.
func (s *Subject) Key() string {
	if s.Session == "" {
		return s.ID
	}
	return s.ID + "_" + s.Session
}

// SourceKeys returns the provenance identities of the raw inputs.
func (s *Subject) SourceKeys() map[artifact.Role]provenance.Key {
	keys := make(map[artifact.Role]provenance.Key, len(s.Inputs))
	for role, input := range s.Inputs {
		keys[role] = provenance.SourceKey(string(role), input.Fingerprint)
	}
	return keys
}

// expected maps each raw input role to its filename within the subject
// directory.
var expected = map[artifact.Role]string{
	artifact.RoleDWI:        "dwi.nii.gz",
	artifact.RoleBval:       "dwi.bval",
	artifact.RoleBvec:       "dwi.bvec",
	artifact.RoleAnatomical: "anat.nii.gz",
}

// Load reads and fingerprints a subject's raw inputs from
// dataDir/<id>[_<session>]/. Missing files or an inconsistent gradient table
// fail with a data error.
func Load(dataDir, id, session string) (*Subject, error) {
	subj := &Subject{
		ID:      strings.TrimSpace(id),
		Session: strings.TrimSpace(session),
		Inputs:  make(map[artifact.Role]Input, len(expected)),
	}
	if subj.ID == "" {
		return nil, services.Wrap(services.ErrData, "", "load subject", "subject id is required", nil)
	}

	dir := filepath.Join(dataDir, subj.Key())
	for role, name := range expected {
		path := filepath.Join(dir, name)
		digest, size, err := fileutil.SHA256File(path)
		if err != nil {
			return nil, services.Wrap(services.ErrData, "", "load subject "+subj.Key(),
				fmt.Sprintf("required input %s (%s) unavailable", role, path), err)
		}
		subj.Inputs[role] = Input{Role: role, Path: path, Fingerprint: digest, Size: size}
	}

	if err := subj.checkGradientTable(); err != nil {
		return nil, err
	}
	return subj, nil
}

// checkGradientTable verifies that the b-value count matches the number of
// gradient directions. Scanners export these as separate files and a partial
// copy is a common way for them to drift apart.
func (s *Subject) checkGradientTable() error {
	bvals, err := countColumns(s.Inputs[artifact.RoleBval].Path)
	if err != nil {
		return services.Wrap(services.ErrData, "", "load subject "+s.Key(), "read b-value table", err)
	}
	directions, err := countDirectionColumns(s.Inputs[artifact.RoleBvec].Path)
	if err != nil {
		return services.Wrap(services.ErrData, "", "load subject "+s.Key(), "read gradient directions", err)
	}
	if bvals == 0 {
		return services.Wrap(services.ErrData, "", "load subject "+s.Key(), "b-value table is empty", nil)
	}
	if bvals != directions {
		return services.Wrap(services.ErrData, "", "load subject "+s.Key(),
			fmt.Sprintf("gradient table shape mismatch: %d b-values vs %d directions", bvals, directions), nil)
	}
	return nil
}

func countColumns(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return len(strings.Fields(string(data))), nil
}

func countDirectionColumns(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	lines := nonEmptyLines(string(data))
	if len(lines) != 3 {
		return 0, fmt.Errorf("expected 3 direction rows, found %d", len(lines))
	}
	count := len(strings.Fields(lines[0]))
	for _, line := range lines[1:] {
		if len(strings.Fields(line)) != count {
			return 0, fmt.Errorf("direction rows have uneven lengths")
		}
	}
	return count, nil
}

func nonEmptyLines(data string) []string {
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
