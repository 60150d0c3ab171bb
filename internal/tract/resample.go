package tract

import (
	"gonum.org/v1/gonum/floats"
)

// Length returns the arc length of a streamline.
func Length(s Streamline) float64 {
	total := 0.0
	for i := 1; i < len(s); i++ {
		total += Dist(s[i-1], s[i])
	}
	return total
}

// Resample returns the streamline re-discretized to exactly n equidistant
// points along its arc length. Degenerate streamlines (fewer than two
// points) repeat their single point.
func Resample(s Streamline, n int) Streamline {
	if n < 2 || len(s) == 0 {
		return nil
	}
	out := make(Streamline, n)
	if len(s) == 1 {
		for i := range out {
			out[i] = s[0]
		}
		return out
	}

	segments := make([]float64, len(s))
	for i := 1; i < len(s); i++ {
		segments[i] = Dist(s[i-1], s[i])
	}
	cumulative := make([]float64, len(s))
	floats.CumSum(cumulative, segments)
	total := cumulative[len(cumulative)-1]
	if total == 0 {
		for i := range out {
			out[i] = s[0]
		}
		return out
	}

	seg := 1
	for i := 0; i < n; i++ {
		target := total * float64(i) / float64(n-1)
		for seg < len(cumulative)-1 && cumulative[seg] < target {
			seg++
		}
		span := cumulative[seg] - cumulative[seg-1]
		t := 0.0
		if span > 0 {
			t = (target - cumulative[seg-1]) / span
		}
		a, b := s[seg-1], s[seg]
		out[i] = Point{
			a[0] + t*(b[0]-a[0]),
			a[1] + t*(b[1]-a[1]),
			a[2] + t*(b[2]-a[2]),
		}
	}
	return out
}

// reverse returns the streamline traversed end to start.
func reverse(s Streamline) Streamline {
	out := make(Streamline, len(s))
	for i, p := range s {
		out[len(s)-1-i] = p
	}
	return out
}

// MDF returns the mean direct-flip distance between two streamlines already
// resampled to a common point count: the smaller of the pointwise mean
// distances in direct and flipped traversal.
func MDF(a, b Streamline) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	direct, flipped := 0.0, 0.0
	n := len(a)
	for i := 0; i < n; i++ {
		direct += Dist(a[i], b[i])
		flipped += Dist(a[i], b[n-1-i])
	}
	direct /= float64(n)
	flipped /= float64(n)
	if flipped < direct {
		return flipped
	}
	return direct
}

// Orient returns s, flipped if traversing it in reverse brings it pointwise
// closer to the reference. Both inputs must share a point count.
func Orient(s, reference Streamline) Streamline {
	if len(s) != len(reference) || len(s) == 0 {
		return s
	}
	direct, flipped := 0.0, 0.0
	n := len(s)
	for i := 0; i < n; i++ {
		direct += Dist(s[i], reference[i])
		flipped += Dist(s[n-1-i], reference[i])
	}
	if flipped < direct {
		return reverse(s)
	}
	return s
}

// CoreTrajectory estimates a bundle's representative path: every streamline
// is resampled to n points, oriented against the first, and averaged per
// node.
func CoreTrajectory(streamlines []Streamline, n int) Streamline {
	if len(streamlines) == 0 || n < 2 {
		return nil
	}
	reference := Resample(streamlines[0], n)
	core := make(Streamline, n)
	count := 0
	for _, s := range streamlines {
		resampled := Resample(s, n)
		if resampled == nil {
			continue
		}
		oriented := Orient(resampled, reference)
		for i := range core {
			core[i][0] += oriented[i][0]
			core[i][1] += oriented[i][1]
			core[i][2] += oriented[i][2]
		}
		count++
	}
	if count == 0 {
		return nil
	}
	inv := 1.0 / float64(count)
	for i := range core {
		core[i][0] *= inv
		core[i][1] *= inv
		core[i][2] *= inv
	}
	return core
}
