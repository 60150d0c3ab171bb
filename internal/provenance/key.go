// Package provenance derives deterministic cache keys from a stage's
// identity, its parameter values, and the keys of the upstream artifacts it
// consumes. Two invocations with identical inputs always derive identical
// keys; any parameter or upstream change produces a new key, which is what
// makes cache invalidation transitive across the pipeline.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"fascicle/internal/services"
)

// Key identifies one stage invocation's cached result.
type Key struct {
	Stage  string
	Digest string
}

// IsZero reports whether the key is unset.
func (k Key) IsZero() bool {
	return k.Stage == "" && k.Digest == ""
}

// Short returns a truncated digest suitable for directory names and logs.
func (k Key) Short() string {
	if len(k.Digest) <= 16 {
		return k.Digest
	}
	return k.Digest[:16]
}

func (k Key) String() string {
	return k.Stage + ":" + k.Short()
}

// Derive computes the provenance key for a stage invocation. canonicalParams
// must already be a canonical (iteration-order independent) encoding of the
// stage's relevant parameters; upstream keys are sorted internally so caller
// ordering does not matter.
func Derive(stage string, canonicalParams []byte, upstream []Key) (Key, error) {
	if strings.TrimSpace(stage) == "" {
		return Key{}, services.Wrap(services.ErrConfiguration, stage, "provenance", "stage identifier is required", nil)
	}
	for _, up := range upstream {
		if up.IsZero() {
			return Key{}, services.Wrap(services.ErrConfiguration, stage, "provenance", "upstream key is unset", nil)
		}
	}

	sorted := make([]Key, len(upstream))
	copy(sorted, upstream)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Stage != sorted[j].Stage {
			return sorted[i].Stage < sorted[j].Stage
		}
		return sorted[i].Digest < sorted[j].Digest
	})

	hasher := sha256.New()
	fmt.Fprintf(hasher, "stage=%s\n", stage)
	hasher.Write([]byte("params:\n"))
	hasher.Write(canonicalParams)
	hasher.Write([]byte("upstream:\n"))
	for _, up := range sorted {
		fmt.Fprintf(hasher, "%s=%s\n", up.Stage, up.Digest)
	}

	return Key{Stage: stage, Digest: hex.EncodeToString(hasher.Sum(nil))}, nil
}

// Parse splits a "stage:digest" encoding back into a Key. Only full digests
// round-trip; Short() forms are for display.
func Parse(s string) (Key, error) {
	stage, digest, ok := strings.Cut(s, ":")
	if !ok || stage == "" || digest == "" {
		return Key{}, services.Wrap(services.ErrConfiguration, stage, "provenance", "malformed key "+s, nil)
	}
	return Key{Stage: stage, Digest: digest}, nil
}

// SourceKey builds the identity of a raw input artifact from its content
// fingerprint. Raw inputs anchor each subject's key chain, which is how two
// subjects with identical parameters still derive distinct stage keys.
func SourceKey(role, fingerprint string) Key {
	return Key{Stage: "source/" + role, Digest: fingerprint}
}
