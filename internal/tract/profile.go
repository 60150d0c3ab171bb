package tract

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Weighting selects how streamline contributions are combined at each
// profile node.
type Weighting string

const (
	// WeightingGaussian attenuates streamlines by their distance from the
	// bundle core at each node.
	WeightingGaussian Weighting = "gaussian"
	// WeightingUniform averages all member streamlines equally.
	WeightingUniform Weighting = "uniform"
)

// ExtractProfile samples a tissue-property map along the bundle's core
// trajectory and aggregates across member streamlines at each node. The
// result always has exactly nodes values; a one-streamline bundle and a
// five-thousand-streamline bundle produce the same shape. Membership weights
// from probabilistic recognition multiply into the spatial weights.
func ExtractProfile(bundle Bundle, property ScalarMap, nodes int, weighting Weighting) Profile {
	profile := Profile{
		Bundle:   bundle.Name,
		Property: property.Name,
		Values:   make([]float64, nodes),
	}
	if len(bundle.Streamlines) == 0 || nodes < 2 {
		return profile
	}

	core := CoreTrajectory(bundle.Streamlines, nodes)
	reference := Resample(bundle.Streamlines[0], nodes)

	resampled := make([]Streamline, 0, len(bundle.Streamlines))
	memberships := make([]float64, 0, len(bundle.Streamlines))
	for i, s := range bundle.Streamlines {
		weight := 1.0
		if i < len(bundle.Weights) {
			weight = bundle.Weights[i]
		}
		if weight <= 0 {
			continue
		}
		r := Resample(s, nodes)
		if r == nil {
			continue
		}
		resampled = append(resampled, Orient(r, reference))
		memberships = append(memberships, weight)
	}
	if len(resampled) == 0 {
		return profile
	}

	values := make([]float64, len(resampled))
	weights := make([]float64, len(resampled))
	for node := 0; node < nodes; node++ {
		bandwidth := nodeBandwidth(resampled, core, node)
		for i, s := range resampled {
			values[i] = property.Sample(s[node])
			weights[i] = memberships[i]
			if weighting == WeightingGaussian {
				weights[i] *= gaussianWeight(Dist(s[node], core[node]), bandwidth)
			}
		}
		if allZero(weights) {
			for i := range weights {
				weights[i] = memberships[i]
			}
		}
		profile.Values[node] = stat.Mean(values, weights)
	}
	return profile
}

// nodeBandwidth is the dispersion of member streamlines around the core at
// one node, floored to keep tight bundles numerically stable.
func nodeBandwidth(streamlines []Streamline, core Streamline, node int) float64 {
	if len(streamlines) < 2 {
		return 1
	}
	distances := make([]float64, len(streamlines))
	for i, s := range streamlines {
		distances[i] = Dist(s[node], core[node])
	}
	sigma := stat.StdDev(distances, nil)
	if sigma < 1e-6 {
		return 1
	}
	return sigma
}

func gaussianWeight(distance, bandwidth float64) float64 {
	z := distance / bandwidth
	return math.Exp(-0.5 * z * z)
}

func allZero(values []float64) bool {
	for _, v := range values {
		if v != 0 {
			return false
		}
	}
	return true
}
