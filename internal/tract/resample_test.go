package tract_test

import (
	"math"
	"testing"

	"fascicle/internal/tract"
)

func line(n int, spacing float64) tract.Streamline {
	s := make(tract.Streamline, n)
	for i := range s {
		s[i] = tract.Point{float64(i) * spacing, 0, 0}
	}
	return s
}

func TestResampleCountAndEndpoints(t *testing.T) {
	s := line(7, 2.0)
	for _, n := range []int{2, 5, 64, 100} {
		r := tract.Resample(s, n)
		if len(r) != n {
			t.Fatalf("Resample(%d) returned %d points", n, len(r))
		}
		if tract.Dist(r[0], s[0]) > 1e-9 || tract.Dist(r[n-1], s[len(s)-1]) > 1e-9 {
			t.Fatalf("Resample(%d) moved endpoints: %v %v", n, r[0], r[n-1])
		}
	}
}

func TestResampleEquidistant(t *testing.T) {
	s := line(10, 1.0)
	r := tract.Resample(s, 5)
	want := tract.Length(s) / 4
	for i := 1; i < len(r); i++ {
		got := tract.Dist(r[i-1], r[i])
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("segment %d length %v, want %v", i, got, want)
		}
	}
}

func TestResampleSinglePointStreamline(t *testing.T) {
	s := tract.Streamline{{1, 2, 3}}
	r := tract.Resample(s, 4)
	if len(r) != 4 {
		t.Fatalf("len = %d", len(r))
	}
	for _, p := range r {
		if p != s[0] {
			t.Fatalf("expected repeated point, got %v", p)
		}
	}
}

func TestMDFIsFlipInvariant(t *testing.T) {
	a := tract.Resample(line(10, 1.0), 8)
	flipped := make(tract.Streamline, len(a))
	for i, p := range a {
		flipped[len(a)-1-i] = p
	}
	if d := tract.MDF(a, flipped); d > 1e-9 {
		t.Fatalf("MDF against flipped self = %v, want 0", d)
	}
}

func TestOrientFlipsReversedStreamline(t *testing.T) {
	ref := tract.Resample(line(10, 1.0), 8)
	reversed := make(tract.Streamline, len(ref))
	for i, p := range ref {
		reversed[len(ref)-1-i] = p
	}
	oriented := tract.Orient(reversed, ref)
	if tract.Dist(oriented[0], ref[0]) > 1e-9 {
		t.Fatalf("Orient did not flip: start %v vs %v", oriented[0], ref[0])
	}
}

func TestCoreTrajectoryAveragesMembers(t *testing.T) {
	lower := make(tract.Streamline, 10)
	upper := make(tract.Streamline, 10)
	for i := 0; i < 10; i++ {
		lower[i] = tract.Point{float64(i), -1, 0}
		upper[i] = tract.Point{float64(i), 1, 0}
	}
	core := tract.CoreTrajectory([]tract.Streamline{lower, upper}, 10)
	if len(core) != 10 {
		t.Fatalf("core length = %d", len(core))
	}
	for _, p := range core {
		if math.Abs(p[1]) > 1e-9 {
			t.Fatalf("core should bisect members, got y=%v", p[1])
		}
	}
}
