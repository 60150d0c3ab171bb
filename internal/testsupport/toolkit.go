package testsupport

import (
	"context"
	"errors"
	"sync"

	"fascicle/internal/compute"
	"fascicle/internal/tract"
)

// Toolkit is a deterministic in-process compute.Toolkit. Outputs are pure
// functions of the inputs, recognition and profiling run the native
// implementations, and every external-tool call is counted so cache tests can
// assert zero recompute.
type Toolkit struct {
	mu     sync.Mutex
	counts map[string]int

	// FailStage, when set to "preprocess", "tractography", or
	// "registration", makes that collaborator return an error.
	FailStage string

	recognizer compute.NativeRecognizer
	profiler   compute.NativeProfiler
}

// NewToolkit returns a fresh counting toolkit.
func NewToolkit() *Toolkit {
	return &Toolkit{counts: make(map[string]int)}
}

// Compute returns the toolkit wired into the interface bundle the pipeline
// consumes.
func (k *Toolkit) Compute() compute.Toolkit {
	return compute.Toolkit{
		Preprocessor: k,
		Tracker:      k,
		Registrar:    k,
		Recognizer:   k.recognizer,
		Profiler:     k.profiler,
	}
}

// Calls returns how many times the named collaborator ran.
func (k *Toolkit) Calls(name string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.counts[name]
}

func (k *Toolkit) record(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.counts[name]++
	if k.FailStage == name {
		return errors.New(name + " deliberately failed")
	}
	return nil
}

// Denoise returns a cleaned volume and mask derived from the raw bytes.
func (k *Toolkit) Denoise(_ context.Context, in compute.PreprocessInput) (compute.PreprocessOutput, error) {
	if err := k.record("preprocess"); err != nil {
		return compute.PreprocessOutput{}, err
	}
	return compute.PreprocessOutput{
		CleanedDWI: append([]byte("cleaned:"), in.DWI...),
		BrainMask:  append([]byte("mask:"), in.DWI...),
	}, nil
}

// Track returns two streamlines along the z axis plus flat fa/md maps, sized
// so the default templates recognize the bundle.
func (k *Toolkit) Track(_ context.Context, in compute.TrackInput) (compute.TrackOutput, error) {
	if err := k.record("tractography"); err != nil {
		return compute.TrackOutput{}, err
	}
	shape := [3]int{4, 4, 10}
	flat := func(name string, value float64) tract.ScalarMap {
		data := make([]float64, shape[0]*shape[1]*shape[2])
		for i := range data {
			data[i] = value
		}
		return tract.ScalarMap{Name: name, Shape: shape, Data: data}
	}
	return compute.TrackOutput{
		Tractogram: tract.Tractogram{Streamlines: []tract.Streamline{
			{{1, 1, 0}, {1, 1, 3}, {1, 1, 6}, {1, 1, 9}},
			{{2, 1, 0}, {2, 1, 4}, {2, 1, 8}},
		}},
		ScalarMaps: map[string]tract.ScalarMap{
			"fa": flat("fa", 0.42),
			"md": flat("md", 0.0007),
		},
	}, nil
}

// Register returns transforms derived from the anatomy bytes.
func (k *Toolkit) Register(_ context.Context, in compute.RegisterInput) (compute.RegisterOutput, error) {
	if err := k.record("registration"); err != nil {
		return compute.RegisterOutput{}, err
	}
	return compute.RegisterOutput{
		Forward: append([]byte("fwd:"), in.Anatomical...),
		Inverse: append([]byte("inv:"), in.Anatomical...),
	}, nil
}
