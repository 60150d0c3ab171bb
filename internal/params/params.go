// Package params holds the immutable parameter set shared by every subject in
// a cohort run. Stage options are seeded from configuration, optionally
// overridden per subject, and canonically encoded for provenance derivation.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"fascicle/internal/config"
	"fascicle/internal/services"
)

// Options is the configuration of a single stage.
type Options map[string]any

// Set is an ordered, immutable mapping from stage name to stage options.
// Copies are returned from all accessors so a Set can be shared by reference
// across concurrent subject runs.
type Set struct {
	order  []string
	stages map[string]Options
}

// FromConfig builds the run's parameter set from the loaded configuration.
func FromConfig(cfg *config.Config) *Set {
	set := &Set{stages: make(map[string]Options)}
	for _, name := range config.StageNames() {
		opts, ok := cfg.StageOptions(name)
		if !ok {
			continue
		}
		set.order = append(set.order, name)
		set.stages[name] = cloneOptions(opts)
	}
	return set
}

// StageNames returns stage names in canonical execution order.
func (s *Set) StageNames() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Stage returns a copy of the named stage's options. Unknown stages fail with
// a configuration error.
func (s *Set) Stage(name string) (Options, error) {
	opts, ok := s.stages[name]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, name, "parameters", "no options configured for stage", nil)
	}
	return cloneOptions(opts), nil
}

// WithOverrides returns a new Set with the supplied per-stage option
// overrides merged in. The receiver is not modified.
func (s *Set) WithOverrides(overrides map[string]map[string]any) *Set {
	if len(overrides) == 0 {
		return s
	}
	merged := &Set{
		order:  append([]string(nil), s.order...),
		stages: make(map[string]Options, len(s.stages)),
	}
	for name, opts := range s.stages {
		merged.stages[name] = cloneOptions(opts)
	}
	for stage, values := range overrides {
		target, ok := merged.stages[stage]
		if !ok {
			continue
		}
		for key, value := range values {
			target[key] = value
		}
	}
	return merged
}

// Canonical returns a deterministic byte encoding of the named stage's
// options, independent of map iteration order.
func (s *Set) Canonical(name string) ([]byte, error) {
	opts, ok := s.stages[name]
	if !ok {
		return nil, services.Wrap(services.ErrConfiguration, name, "parameters", "no options configured for stage", nil)
	}
	return opts.Canonical(), nil
}

// Digest folds every stage's canonical encoding into one string, used for
// labeling runs in the ledger.
func (s *Set) Digest() string {
	var b strings.Builder
	for _, name := range s.order {
		b.WriteString(name)
		b.WriteByte('\n')
		b.Write(s.stages[name].Canonical())
	}
	return b.String()
}

// Canonical returns the options as sorted key=value lines with stable value
// formatting.
func (o Options) Canonical() []byte {
	keys := make([]string, 0, len(o))
	for key := range o {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(formatValue(o[key]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func cloneOptions(src map[string]any) Options {
	dst := make(Options, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatValue(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}
