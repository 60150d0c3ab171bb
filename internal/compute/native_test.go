package compute_test

import (
	"context"
	"testing"

	"fascicle/internal/compute"
	"fascicle/internal/tract"
)

func centroid(y float64, n int) tract.Streamline {
	s := make(tract.Streamline, n)
	for i := range s {
		s[i] = tract.Point{float64(i), y, 0}
	}
	return s
}

func jittered(base tract.Streamline, dy float64) tract.Streamline {
	s := make(tract.Streamline, len(base))
	for i, p := range base {
		s[i] = tract.Point{p[0], p[1] + dy, p[2]}
	}
	return s
}

func recognizeInput(membership string) compute.RecognizeInput {
	arc := centroid(0, 12)
	cst := centroid(40, 12)
	return compute.RecognizeInput{
		Tractogram: tract.Tractogram{Streamlines: []tract.Streamline{
			jittered(arc, 0.5),
			jittered(arc, -0.5),
			jittered(cst, 0.3),
			jittered(arc, 500), // matches nothing
		}},
		Templates: []compute.BundleTemplate{
			{Name: "ARC_L", Centroid: arc},
			{Name: "CST_R", Centroid: cst},
		},
		Membership:    membership,
		MaxDistanceMM: 5,
	}
}

func TestNativeRecognizerExclusive(t *testing.T) {
	out, err := compute.NativeRecognizer{}.Recognize(context.Background(), recognizeInput("exclusive"))
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if out.Unassigned != 1 {
		t.Fatalf("unassigned = %d, want 1", out.Unassigned)
	}
	byName := make(map[string]tract.Bundle)
	for _, b := range out.Bundles {
		byName[b.Name] = b
	}
	if len(byName["ARC_L"].Streamlines) != 2 {
		t.Fatalf("ARC_L members = %d, want 2", len(byName["ARC_L"].Streamlines))
	}
	if len(byName["CST_R"].Streamlines) != 1 {
		t.Fatalf("CST_R members = %d, want 1", len(byName["CST_R"].Streamlines))
	}
	for _, b := range out.Bundles {
		if b.Confidence <= 0 || b.Confidence > 1 {
			t.Fatalf("%s confidence = %v", b.Name, b.Confidence)
		}
		for _, w := range b.Weights {
			if w != 1 {
				t.Fatalf("exclusive weights must be 1, got %v", w)
			}
		}
	}
}

func TestNativeRecognizerProbabilisticWeightsNormalize(t *testing.T) {
	// Two overlapping templates so streamlines land within range of both.
	a := centroid(0, 12)
	b := centroid(2, 12)
	in := compute.RecognizeInput{
		Tractogram: tract.Tractogram{Streamlines: []tract.Streamline{jittered(a, 1)}},
		Templates: []compute.BundleTemplate{
			{Name: "A", Centroid: a},
			{Name: "B", Centroid: b},
		},
		Membership:    "probabilistic",
		MaxDistanceMM: 5,
	}
	out, err := compute.NativeRecognizer{}.Recognize(context.Background(), in)
	if err != nil {
		t.Fatalf("Recognize failed: %v", err)
	}
	if len(out.Bundles) != 2 {
		t.Fatalf("bundles = %d, want 2", len(out.Bundles))
	}
	total := 0.0
	for _, bundle := range out.Bundles {
		if len(bundle.Weights) != 1 {
			t.Fatalf("%s weights = %v", bundle.Name, bundle.Weights)
		}
		total += bundle.Weights[0]
	}
	if total < 0.999 || total > 1.001 {
		t.Fatalf("memberships should sum to 1, got %v", total)
	}
}

func TestNativeRecognizerRequiresTemplates(t *testing.T) {
	_, err := compute.NativeRecognizer{}.Recognize(context.Background(), compute.RecognizeInput{MaxDistanceMM: 5})
	if err == nil {
		t.Fatal("expected error without templates")
	}
}

func TestNativeProfilerShape(t *testing.T) {
	shape := [3]int{8, 8, 8}
	data := make([]float64, 8*8*8)
	for i := range data {
		data[i] = 0.4
	}
	out, err := compute.NativeProfiler{}.Profile(context.Background(), compute.ProfileInput{
		Bundles: []tract.Bundle{
			{Name: "ARC_L", Streamlines: []tract.Streamline{centroid(4, 10)}},
			{Name: "CST_R", Streamlines: []tract.Streamline{centroid(5, 10), centroid(6, 10)}},
		},
		ScalarMaps: map[string]tract.ScalarMap{
			"fa": {Name: "fa", Shape: shape, Data: data},
		},
		Nodes:      25,
		Properties: []string{"fa"},
		Weighting:  "gaussian",
	})
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if len(out.Profiles) != 2 {
		t.Fatalf("profiles = %d, want 2", len(out.Profiles))
	}
	for _, p := range out.Profiles {
		if len(p.Values) != 25 {
			t.Fatalf("%s/%s has %d nodes, want 25", p.Bundle, p.Property, len(p.Values))
		}
	}
}

func TestNativeProfilerMissingScalarMap(t *testing.T) {
	_, err := compute.NativeProfiler{}.Profile(context.Background(), compute.ProfileInput{
		Nodes:      10,
		Properties: []string{"rd"},
	})
	if err == nil {
		t.Fatal("expected error for missing scalar map")
	}
}
