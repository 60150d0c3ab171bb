// Package pipeline wires the stage handlers into a dependency graph and runs
// one subject through it: derive the stage's provenance key, reuse the cached
// entry on a hit, execute and store on a miss. Because every key folds in the
// upstream keys, editing a raw input or a parameter re-keys the whole chain
// below it with no explicit cascade bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fascicle/internal/artifact"
	"fascicle/internal/logging"
	"fascicle/internal/params"
	"fascicle/internal/provenance"
	"fascicle/internal/services"
	"fascicle/internal/stage"
	"fascicle/internal/subject"
)

// binding tracks where a role's bytes live for the subject being processed.
type binding struct {
	key  provenance.Key
	read func() ([]byte, error)
}

// Graph executes stage handlers in dependency order against the artifact
// store. A Graph is immutable after construction and safe for concurrent
// subject runs.
type Graph struct {
	stages []stage.Handler
	store  *artifact.Store
	logger *slog.Logger
}

// New validates the handler ordering and returns a runnable graph. Each
// handler's required roles must be raw subject inputs or outputs of an
// earlier handler.
func New(store *artifact.Store, logger *slog.Logger, handlers ...stage.Handler) (*Graph, error) {
	if store == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "pipeline", "artifact store is required", nil)
	}
	if len(handlers) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", "pipeline", "at least one stage is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	available := map[artifact.Role]bool{
		artifact.RoleDWI:        true,
		artifact.RoleBval:       true,
		artifact.RoleBvec:       true,
		artifact.RoleAnatomical: true,
	}
	seen := make(map[string]bool, len(handlers))
	for _, h := range handlers {
		if seen[h.ID()] {
			return nil, services.Wrap(services.ErrConfiguration, h.ID(), "pipeline", "duplicate stage", nil)
		}
		seen[h.ID()] = true
		for _, role := range h.Requires() {
			if !available[role] {
				return nil, services.Wrap(services.ErrConfiguration, h.ID(), "pipeline",
					fmt.Sprintf("required role %s is not produced by any earlier stage", role), nil)
			}
		}
		for _, role := range h.Produces() {
			if available[role] {
				return nil, services.Wrap(services.ErrConfiguration, h.ID(), "pipeline",
					fmt.Sprintf("role %s already has a producer", role), nil)
			}
			available[role] = true
		}
	}

	return &Graph{
		stages: handlers,
		store:  store,
		logger: logging.NewComponentLogger(logger, "pipeline"),
	}, nil
}

// StageNames returns the stage identifiers in execution order.
func (g *Graph) StageNames() []string {
	names := make([]string, len(g.stages))
	for i, h := range g.stages {
		names[i] = h.ID()
	}
	return names
}

// StageRecord captures one stage's outcome within a subject run.
type StageRecord struct {
	Stage    string
	Key      provenance.Key
	CacheHit bool
	Duration time.Duration
	Err      error
}

// SubjectResult is the outcome of running one subject through the graph. Err
// is non-nil when a stage failed; Stages always lists every stage reached,
// including the failing one.
type SubjectResult struct {
	Subject string
	Stages  []StageRecord
	Err     error
}

// TerminalKey returns the key of the final completed stage, if any.
func (r *SubjectResult) TerminalKey() (provenance.Key, bool) {
	for i := len(r.Stages) - 1; i >= 0; i-- {
		if r.Stages[i].Err == nil {
			return r.Stages[i].Key, true
		}
	}
	return provenance.Key{}, false
}

// Keys derives every stage's provenance key for a subject without executing
// anything. The chain is fully determined by the subject's input fingerprints
// and the parameter set.
func (g *Graph) Keys(subj *subject.Subject, set *params.Set) (map[string]provenance.Key, error) {
	bindings := rawBindings(subj)
	keys := make(map[string]provenance.Key, len(g.stages))
	for _, h := range g.stages {
		key, err := g.deriveKey(h, set, bindings)
		if err != nil {
			return nil, err
		}
		keys[h.ID()] = key
		for _, role := range h.Produces() {
			bindings[role] = binding{key: key}
		}
	}
	return keys, nil
}

// RunSubject executes the graph for one subject. A stage failure aborts this
// subject only; completed upstream entries stay cached, so a retry resumes at
// the failing stage.
func (g *Graph) RunSubject(ctx context.Context, subj *subject.Subject, set *params.Set) *SubjectResult {
	result := &SubjectResult{Subject: subj.Key()}
	logger := g.logger.With(logging.String(logging.FieldSubject, subj.Key()))

	bindings := rawBindings(subj)
	for _, h := range g.stages {
		record, entry := g.runStage(ctx, logger, h, subj, set, bindings)
		result.Stages = append(result.Stages, record)
		if record.Err != nil {
			result.Err = record.Err
			return result
		}
		for _, role := range h.Produces() {
			role := role
			bindings[role] = binding{
				key:  record.Key,
				read: func() ([]byte, error) { return g.store.Read(entry, role) },
			}
		}
	}
	return result
}

func (g *Graph) runStage(ctx context.Context, logger *slog.Logger, h stage.Handler, subj *subject.Subject, set *params.Set, bindings map[artifact.Role]binding) (StageRecord, *artifact.Entry) {
	record := StageRecord{Stage: h.ID()}
	started := time.Now()
	fail := func(err error) (StageRecord, *artifact.Entry) {
		record.Duration = time.Since(started)
		record.Err = err
		logger.Error("stage failed",
			logging.String(logging.FieldStage, h.ID()),
			logging.String("category", services.Classify(err)),
			logging.Error(err),
		)
		return record, nil
	}

	if err := ctx.Err(); err != nil {
		return fail(services.Wrap(services.ErrComputation, h.ID(), "run", "run canceled", err))
	}

	key, err := g.deriveKey(h, set, bindings)
	if err != nil {
		return fail(err)
	}
	record.Key = key
	stageLogger := logger.With(
		logging.String(logging.FieldStage, h.ID()),
		logging.String(logging.FieldKey, key.String()),
	)
	stageLogger.Info("stage started")

	entry, err := g.store.Lookup(ctx, subj.Key(), key)
	if err != nil {
		return fail(err)
	}
	if entry != nil {
		record.CacheHit = true
		record.Duration = time.Since(started)
		stageLogger.Info("stage completed",
			logging.Bool(logging.FieldCacheHit, true),
			logging.Duration("duration", record.Duration),
		)
		return record, entry
	}

	opts, err := set.Stage(h.ID())
	if err != nil {
		return fail(err)
	}
	inputs := stage.Inputs{
		Subject:   subj,
		Options:   opts,
		Artifacts: make(map[artifact.Role][]byte, len(h.Requires())),
	}
	for _, role := range h.Requires() {
		b, ok := bindings[role]
		if !ok || b.read == nil {
			return fail(services.Wrap(services.ErrStorage, h.ID(), "inputs",
				fmt.Sprintf("no readable binding for role %s", role), nil))
		}
		data, err := b.read()
		if err != nil {
			return fail(err)
		}
		inputs.Artifacts[role] = data
	}

	payloads, err := h.Run(ctx, inputs)
	if err != nil {
		return fail(err)
	}
	entry, err = g.store.Store(ctx, subj.Key(), key, payloads)
	if err != nil {
		return fail(err)
	}

	record.Duration = time.Since(started)
	stageLogger.Info("stage completed",
		logging.Bool(logging.FieldCacheHit, false),
		logging.Duration("duration", record.Duration),
	)
	return record, entry
}

// deriveKey folds the stage's canonical parameters, its upstream role keys,
// and any extra source keys into the invocation's provenance key.
func (g *Graph) deriveKey(h stage.Handler, set *params.Set, bindings map[artifact.Role]binding) (provenance.Key, error) {
	canonical, err := set.Canonical(h.ID())
	if err != nil {
		return provenance.Key{}, err
	}
	var upstream []provenance.Key
	for _, role := range h.Requires() {
		b, ok := bindings[role]
		if !ok {
			return provenance.Key{}, services.Wrap(services.ErrStorage, h.ID(), "provenance",
				fmt.Sprintf("no binding for required role %s", role), nil)
		}
		upstream = append(upstream, b.key)
	}
	if sourced, ok := h.(stage.SourceKeyed); ok {
		upstream = append(upstream, sourced.SourceKeys()...)
	}
	return provenance.Derive(h.ID(), canonical, upstream)
}

// rawBindings seeds the role table with the subject's fingerprinted inputs.
func rawBindings(subj *subject.Subject) map[artifact.Role]binding {
	bindings := make(map[artifact.Role]binding, len(subj.Inputs))
	for role, input := range subj.Inputs {
		input := input
		bindings[role] = binding{
			key:  provenance.SourceKey(string(role), input.Fingerprint),
			read: func() ([]byte, error) { return os.ReadFile(input.Path) },
		}
	}
	return bindings
}
