package subject_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fascicle/internal/artifact"
	"fascicle/internal/services"
	"fascicle/internal/subject"
)

func writeSubject(t *testing.T, dataDir, id, bval, bvec string) {
	t.Helper()
	dir := filepath.Join(dataDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"dwi.nii.gz":  "dwi-bytes",
		"dwi.bval":    bval,
		"dwi.bvec":    bvec,
		"anat.nii.gz": "anat-bytes",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestLoadFingerprintsInputs(t *testing.T) {
	dataDir := t.TempDir()
	writeSubject(t, dataDir, "sub-01", "0 1000 1000", "0 1 0\n0 0 1\n1 0 0")

	subj, err := subject.Load(dataDir, "sub-01", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if subj.Key() != "sub-01" {
		t.Fatalf("Key = %q", subj.Key())
	}
	if len(subj.Inputs) != 4 {
		t.Fatalf("inputs = %d, want 4", len(subj.Inputs))
	}
	keys := subj.SourceKeys()
	dwiKey, ok := keys[artifact.RoleDWI]
	if !ok || dwiKey.Digest == "" {
		t.Fatalf("missing dwi source key: %#v", keys)
	}
}

func TestLoadDistinctContentDistinctKeys(t *testing.T) {
	dataDir := t.TempDir()
	writeSubject(t, dataDir, "sub-01", "0 1000", "0 1\n0 0\n1 0")
	writeSubject(t, dataDir, "sub-02", "0 2000", "0 1\n0 0\n1 0")

	first, err := subject.Load(dataDir, "sub-01", "")
	if err != nil {
		t.Fatalf("Load sub-01: %v", err)
	}
	second, err := subject.Load(dataDir, "sub-02", "")
	if err != nil {
		t.Fatalf("Load sub-02: %v", err)
	}
	if first.SourceKeys()[artifact.RoleBval] == second.SourceKeys()[artifact.RoleBval] {
		t.Fatal("different content must derive different source keys")
	}
}

func TestLoadMissingInputIsDataError(t *testing.T) {
	dataDir := t.TempDir()
	dir := filepath.Join(dataDir, "sub-01")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dwi.nii.gz"), []byte("dwi"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := subject.Load(dataDir, "sub-01", "")
	if err == nil {
		t.Fatal("expected error for missing inputs")
	}
	if !errors.Is(err, services.ErrData) {
		t.Fatalf("expected data marker, got %v", err)
	}
}

func TestLoadGradientShapeMismatch(t *testing.T) {
	dataDir := t.TempDir()
	writeSubject(t, dataDir, "sub-01", "0 1000 2000", "0 1\n0 0\n1 0")

	_, err := subject.Load(dataDir, "sub-01", "")
	if err == nil {
		t.Fatal("expected error for mismatched gradient table")
	}
	if !errors.Is(err, services.ErrData) {
		t.Fatalf("expected data marker, got %v", err)
	}
}

func TestLoadSessionScopesDirectory(t *testing.T) {
	dataDir := t.TempDir()
	writeSubject(t, dataDir, "sub-01_ses-02", "0 1000", "0 1\n0 0\n1 0")

	subj, err := subject.Load(dataDir, "sub-01", "ses-02")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if subj.Key() != "sub-01_ses-02" {
		t.Fatalf("Key = %q", subj.Key())
	}
}
