package compute

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"fascicle/internal/tract"
)

// NativeRecognizer classifies streamlines by mean direct-flip distance to
// atlas centroids, the nearest-centroid scheme bundle-recognition pipelines
// use as a fast baseline.
type NativeRecognizer struct{}

// Recognize assigns each streamline to the templates within the distance
// ceiling. Exclusive membership keeps only the closest template;
// probabilistic membership spreads normalized weights across all templates
// in range.
func (NativeRecognizer) Recognize(ctx context.Context, in RecognizeInput) (RecognizeOutput, error) {
	if len(in.Templates) == 0 {
		return RecognizeOutput{}, fmt.Errorf("no bundle templates supplied")
	}
	if in.MaxDistanceMM <= 0 {
		return RecognizeOutput{}, fmt.Errorf("max distance must be positive, got %v", in.MaxDistanceMM)
	}

	type member struct {
		streamline tract.Streamline
		weight     float64
		score      float64
	}
	assigned := make(map[string][]member, len(in.Templates))
	unassigned := 0

	for _, s := range in.Tractogram.Streamlines {
		if err := ctx.Err(); err != nil {
			return RecognizeOutput{}, err
		}

		type match struct {
			name  string
			score float64
		}
		var matches []match
		for _, tmpl := range in.Templates {
			points := len(tmpl.Centroid)
			if points < 2 {
				continue
			}
			distance := tract.MDF(tract.Resample(s, points), tmpl.Centroid)
			if distance > in.MaxDistanceMM {
				continue
			}
			matches = append(matches, match{name: tmpl.Name, score: 1 - distance/in.MaxDistanceMM})
		}
		if len(matches) == 0 {
			unassigned++
			continue
		}

		sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
		if in.Membership == "probabilistic" {
			total := 0.0
			for _, m := range matches {
				total += m.score
			}
			for _, m := range matches {
				assigned[m.name] = append(assigned[m.name], member{
					streamline: s,
					weight:     m.score / total,
					score:      m.score,
				})
			}
		} else {
			best := matches[0]
			assigned[best.name] = append(assigned[best.name], member{streamline: s, weight: 1, score: best.score})
		}
	}

	out := RecognizeOutput{Unassigned: unassigned}
	for _, tmpl := range in.Templates {
		members := assigned[tmpl.Name]
		if len(members) == 0 {
			continue
		}
		bundle := tract.Bundle{Name: tmpl.Name}
		totalScore := 0.0
		for _, m := range members {
			bundle.Streamlines = append(bundle.Streamlines, m.streamline)
			bundle.Weights = append(bundle.Weights, m.weight)
			totalScore += m.score
		}
		bundle.Confidence = totalScore / float64(len(members))
		out.Bundles = append(out.Bundles, bundle)
	}
	return out, nil
}

// NativeProfiler aggregates tissue properties along each bundle's core
// trajectory.
type NativeProfiler struct{}

// Profile extracts one fixed-length profile per bundle per property.
func (NativeProfiler) Profile(ctx context.Context, in ProfileInput) (ProfileOutput, error) {
	if in.Nodes < 2 {
		return ProfileOutput{}, fmt.Errorf("profile node count must be at least 2, got %d", in.Nodes)
	}
	var out ProfileOutput
	for _, property := range in.Properties {
		scalar, ok := in.ScalarMaps[property]
		if !ok {
			return ProfileOutput{}, fmt.Errorf("no scalar map for property %q", property)
		}
		for _, bundle := range in.Bundles {
			if err := ctx.Err(); err != nil {
				return ProfileOutput{}, err
			}
			out.Profiles = append(out.Profiles, tract.ExtractProfile(bundle, scalar, in.Nodes, tract.Weighting(in.Weighting)))
		}
	}
	return out, nil
}

// LoadTemplates reads atlas bundle templates from a JSON file.
func LoadTemplates(path string) ([]BundleTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var templates []BundleTemplate
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("templates file %s defines no bundles", path)
	}
	return templates, nil
}
