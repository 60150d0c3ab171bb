package provenance_test

import (
	"testing"

	"fascicle/internal/params"
	"fascicle/internal/provenance"
)

func TestDeriveIsDeterministic(t *testing.T) {
	opts := params.Options{"step_size_mm": 0.5, "model": "csd"}
	up := []provenance.Key{provenance.SourceKey("dwi", "abc123")}

	first, err := provenance.Derive("tractography", opts.Canonical(), up)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	second, err := provenance.Derive("tractography", opts.Canonical(), up)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected identical keys, got %v and %v", first, second)
	}
}

func TestDeriveUpstreamOrderIndependent(t *testing.T) {
	opts := params.Options{"template": "mni152"}
	a := provenance.SourceKey("dwi", "aaa")
	b := provenance.SourceKey("anat", "bbb")

	forward, err := provenance.Derive("registration", opts.Canonical(), []provenance.Key{a, b})
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	reversed, err := provenance.Derive("registration", opts.Canonical(), []provenance.Key{b, a})
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if forward != reversed {
		t.Fatal("upstream ordering should not affect the derived key")
	}
}

func TestDeriveChangesWithAnyInput(t *testing.T) {
	base := params.Options{"step_size_mm": 0.5}
	up := []provenance.Key{provenance.SourceKey("dwi", "abc")}
	key, err := provenance.Derive("tractography", base.Canonical(), up)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	altParams, _ := provenance.Derive("tractography", params.Options{"step_size_mm": 0.75}.Canonical(), up)
	if altParams.Digest == key.Digest {
		t.Fatal("parameter change should change the key")
	}

	altUpstream, _ := provenance.Derive("tractography", base.Canonical(), []provenance.Key{provenance.SourceKey("dwi", "def")})
	if altUpstream.Digest == key.Digest {
		t.Fatal("upstream change should change the key")
	}

	altStage, _ := provenance.Derive("recognition", base.Canonical(), up)
	if altStage.Digest == key.Digest {
		t.Fatal("stage change should change the key")
	}
}

func TestDeriveRejectsEmptyStage(t *testing.T) {
	if _, err := provenance.Derive("", nil, nil); err == nil {
		t.Fatal("expected error for empty stage identifier")
	}
}

func TestDeriveRejectsUnsetUpstream(t *testing.T) {
	if _, err := provenance.Derive("tractography", nil, []provenance.Key{{}}); err == nil {
		t.Fatal("expected error for zero upstream key")
	}
}
