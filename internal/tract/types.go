// Package tract holds the white-matter geometry model: streamlines, bundles,
// scalar maps, and tract profiles, together with the resampling and weighted
// aggregation math the profile-extraction stage is built on.
package tract

import (
	"fmt"
	"math"
)

// Point is a 3D coordinate in the subject's voxel space.
type Point [3]float64

// Sub returns p - q.
func (p Point) Sub(q Point) Point {
	return Point{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Norm returns the Euclidean length of p.
func (p Point) Norm() float64 {
	return math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
}

// Dist returns the Euclidean distance between p and q.
func Dist(p, q Point) float64 {
	return p.Sub(q).Norm()
}

// Streamline is a discretized 3D path approximating one reconstructed fiber.
type Streamline []Point

// Tractogram is a whole-brain streamline set.
type Tractogram struct {
	Streamlines []Streamline `json:"streamlines"`
}

// Bundle is a named canonical tract: the streamlines recognition assigned to
// it, with per-streamline membership weights and confidence scores.
// Weights are 1 under exclusive membership; under probabilistic membership
// they carry the classifier's graded assignment into profile aggregation.
type Bundle struct {
	Name        string       `json:"name"`
	Streamlines []Streamline `json:"streamlines"`
	Weights     []float64    `json:"weights"`
	Confidence  float64      `json:"confidence"`
}

// Profile is a fixed-length sequence of scalar values sampled along a
// bundle's core trajectory. Values always has exactly the run's configured
// node count, regardless of bundle size.
type Profile struct {
	Bundle   string    `json:"bundle"`
	Property string    `json:"property"`
	Values   []float64 `json:"values"`
}

// ScalarMap is a tissue-property volume (e.g. FA) on the subject's voxel
// grid, flattened in x-fastest order.
type ScalarMap struct {
	Name  string    `json:"name"`
	Shape [3]int    `json:"shape"`
	Data  []float64 `json:"data"`
}

// Validate checks that the grid dimensions are positive and that Data holds
// exactly one value per voxel. Maps arrive from external tools, so callers
// must validate before sampling; At and Sample assume a consistent grid.
func (m *ScalarMap) Validate() error {
	for axis, n := range m.Shape {
		if n < 1 {
			return fmt.Errorf("scalar map %q: shape axis %d is %d, want >= 1", m.Name, axis, n)
		}
	}
	if want := m.Shape[0] * m.Shape[1] * m.Shape[2]; len(m.Data) != want {
		return fmt.Errorf("scalar map %q: %d values for shape %v, want %d",
			m.Name, len(m.Data), m.Shape, want)
	}
	return nil
}

// At returns the voxel value at integer indices, clamped to the grid.
func (m *ScalarMap) At(i, j, k int) float64 {
	i = clamp(i, 0, m.Shape[0]-1)
	j = clamp(j, 0, m.Shape[1]-1)
	k = clamp(k, 0, m.Shape[2]-1)
	return m.Data[i+m.Shape[0]*(j+m.Shape[1]*k)]
}

// Sample returns the trilinearly interpolated value at a continuous position.
func (m *ScalarMap) Sample(p Point) float64 {
	x, y, z := p[0], p[1], p[2]
	i, j, k := int(math.Floor(x)), int(math.Floor(y)), int(math.Floor(z))
	fx, fy, fz := x-float64(i), y-float64(j), z-float64(k)

	c000 := m.At(i, j, k)
	c100 := m.At(i+1, j, k)
	c010 := m.At(i, j+1, k)
	c110 := m.At(i+1, j+1, k)
	c001 := m.At(i, j, k+1)
	c101 := m.At(i+1, j, k+1)
	c011 := m.At(i, j+1, k+1)
	c111 := m.At(i+1, j+1, k+1)

	c00 := c000*(1-fx) + c100*fx
	c10 := c010*(1-fx) + c110*fx
	c01 := c001*(1-fx) + c101*fx
	c11 := c011*(1-fx) + c111*fx

	c0 := c00*(1-fy) + c10*fy
	c1 := c01*(1-fy) + c11*fy

	return c0*(1-fz) + c1*fz
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
