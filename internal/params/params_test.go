package params_test

import (
	"bytes"
	"errors"
	"testing"

	"fascicle/internal/config"
	"fascicle/internal/params"
	"fascicle/internal/services"
)

func newSet(t *testing.T) *params.Set {
	t.Helper()
	cfg := config.Default()
	return params.FromConfig(&cfg)
}

func TestFromConfigCoversAllStages(t *testing.T) {
	set := newSet(t)
	names := set.StageNames()
	want := config.StageNames()
	if len(names) != len(want) {
		t.Fatalf("stage names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("stage order = %v, want %v", names, want)
		}
	}
}

func TestCanonicalIsOrderIndependent(t *testing.T) {
	a := params.Options{"step_size_mm": 0.5, "model": "csd", "seed_density": 2}
	b := params.Options{"seed_density": 2, "model": "csd", "step_size_mm": 0.5}
	if !bytes.Equal(a.Canonical(), b.Canonical()) {
		t.Fatalf("canonical encodings differ:\n%s\n%s", a.Canonical(), b.Canonical())
	}
}

func TestCanonicalDistinguishesValues(t *testing.T) {
	a := params.Options{"step_size_mm": 0.5}
	b := params.Options{"step_size_mm": 0.75}
	if bytes.Equal(a.Canonical(), b.Canonical()) {
		t.Fatal("expected distinct canonical encodings")
	}
}

func TestWithOverridesDoesNotMutateReceiver(t *testing.T) {
	base := newSet(t)
	overridden := base.WithOverrides(map[string]map[string]any{
		"tractography": {"step_size_mm": 1.25},
	})

	baseOpts, err := base.Stage("tractography")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	overriddenOpts, err := overridden.Stage("tractography")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	baseStep, _ := baseOpts.Float("tractography", "step_size_mm")
	overStep, _ := overriddenOpts.Float("tractography", "step_size_mm")
	if baseStep == overStep {
		t.Fatal("override should change the copy only")
	}
	if overStep != 1.25 {
		t.Fatalf("override step = %v", overStep)
	}
}

func TestWithOverridesIgnoresUnknownStage(t *testing.T) {
	base := newSet(t)
	merged := base.WithOverrides(map[string]map[string]any{
		"segmentation": {"foo": 1},
	})
	if len(merged.StageNames()) != len(base.StageNames()) {
		t.Fatal("unknown stage should not be added")
	}
}

func TestAccessorsMissingKey(t *testing.T) {
	opts := params.Options{"nodes": 100}
	if _, err := opts.Float("profiles", "bandwidth"); err == nil {
		t.Fatal("expected missing-option error")
	} else if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}
}

func TestAccessorsTypeCoercion(t *testing.T) {
	opts := params.Options{
		"nodes":      int64(64),
		"threshold":  1,
		"names":      []any{"fa", "md"},
		"exact":      100.0,
		"fractional": 0.5,
	}
	if n, err := opts.Int("profiles", "nodes"); err != nil || n != 64 {
		t.Fatalf("Int(int64) = %d, %v", n, err)
	}
	if n, err := opts.Int("profiles", "exact"); err != nil || n != 100 {
		t.Fatalf("Int(float) = %d, %v", n, err)
	}
	if _, err := opts.Int("profiles", "fractional"); err == nil {
		t.Fatal("fractional float should not coerce to int")
	}
	if f, err := opts.Float("profiles", "threshold"); err != nil || f != 1 {
		t.Fatalf("Float(int) = %v, %v", f, err)
	}
	names, err := opts.Strings("profiles", "names")
	if err != nil || len(names) != 2 || names[0] != "fa" {
		t.Fatalf("Strings = %v, %v", names, err)
	}
}
