package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"fascicle/internal/subject"
)

// SubjectFiles holds the raw file contents for one synthetic subject. Zero
// fields fall back to small consistent defaults.
type SubjectFiles struct {
	DWI  []byte
	Bval []byte
	Bvec []byte
	Anat []byte
}

func (f SubjectFiles) withDefaults(id string) SubjectFiles {
	if f.DWI == nil {
		f.DWI = []byte("dwi volume " + id)
	}
	if f.Bval == nil {
		f.Bval = []byte("0 1000 1000\n")
	}
	if f.Bvec == nil {
		f.Bvec = []byte("0 1 0\n0 0 1\n0 0 0\n")
	}
	if f.Anat == nil {
		f.Anat = []byte("anat volume " + id)
	}
	return f
}

// WriteSubjectFiles lays out a subject directory under dataDir with a
// consistent gradient table.
func WriteSubjectFiles(t testing.TB, dataDir, id string, files SubjectFiles) {
	t.Helper()
	files = files.withDefaults(id)

	dir := filepath.Join(dataDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, data := range map[string][]byte{
		"dwi.nii.gz":  files.DWI,
		"dwi.bval":    files.Bval,
		"dwi.bvec":    files.Bvec,
		"anat.nii.gz": files.Anat,
	} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// LoadSubject writes the subject fixture and loads it in one step.
func LoadSubject(t testing.TB, dataDir, id string, files SubjectFiles) *subject.Subject {
	t.Helper()
	WriteSubjectFiles(t, dataDir, id, files)
	subj, err := subject.Load(dataDir, id, "")
	if err != nil {
		t.Fatalf("load subject %s: %v", id, err)
	}
	return subj
}
