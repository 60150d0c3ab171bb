package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fascicle/internal/artifact"
	"fascicle/internal/config"
	"fascicle/internal/logging"
	"fascicle/internal/params"
	"fascicle/internal/services"
	"fascicle/internal/subject"
	"fascicle/internal/testsupport"
	"fascicle/internal/tract"
)

type fixture struct {
	cfg     *config.Config
	toolkit *testsupport.Toolkit
	graph   *Graph
	store   *artifact.Store
	set     *params.Set
	subj    *subject.Subject
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	toolkit := testsupport.NewToolkit()
	store, err := artifact.NewStore(cfg.Paths.ArtifactDir, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	graph, err := Build(store, logging.NewNop(), toolkit.Compute(), cfg.Recognition.TemplatesPath)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		cfg:     cfg,
		toolkit: toolkit,
		graph:   graph,
		store:   store,
		set:     params.FromConfig(cfg),
		subj:    testsupport.LoadSubject(t, cfg.Paths.DataDir, "sub-01", testsupport.SubjectFiles{}),
	}
}

func TestRunSubjectExecutesAllStages(t *testing.T) {
	f := newFixture(t)

	result := f.graph.RunSubject(context.Background(), f.subj, f.set)
	if result.Err != nil {
		t.Fatalf("RunSubject: %v", result.Err)
	}
	if len(result.Stages) != 5 {
		t.Fatalf("stage count = %d, want 5", len(result.Stages))
	}
	for _, record := range result.Stages {
		if record.CacheHit {
			t.Fatalf("stage %s was a cache hit on a cold store", record.Stage)
		}
		if record.Key.IsZero() {
			t.Fatalf("stage %s has no key", record.Stage)
		}
	}

	key, ok := result.TerminalKey()
	if !ok || key.Stage != "profiles" {
		t.Fatalf("terminal key = %+v, ok = %v", key, ok)
	}
	entry, err := f.store.Lookup(context.Background(), f.subj.Key(), key)
	if err != nil || entry == nil {
		t.Fatalf("profiles entry missing: %v", err)
	}
	data, err := f.store.Read(entry, artifact.RoleProfiles)
	if err != nil {
		t.Fatal(err)
	}
	var profiles []tract.Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("profile count = %d, want fa and md", len(profiles))
	}
	for _, p := range profiles {
		if len(p.Values) != f.cfg.Profiles.Nodes {
			t.Fatalf("profile %s/%s has %d nodes, want %d", p.Bundle, p.Property, len(p.Values), f.cfg.Profiles.Nodes)
		}
	}
}

func TestSecondRunIsAllCacheHitsWithZeroRecompute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.graph.RunSubject(ctx, f.subj, f.set)
	if first.Err != nil {
		t.Fatal(first.Err)
	}
	second := f.graph.RunSubject(ctx, f.subj, f.set)
	if second.Err != nil {
		t.Fatal(second.Err)
	}

	for i, record := range second.Stages {
		if !record.CacheHit {
			t.Fatalf("stage %s recomputed on second run", record.Stage)
		}
		if record.Key != first.Stages[i].Key {
			t.Fatalf("stage %s key changed between identical runs", record.Stage)
		}
	}
	for _, name := range []string{"preprocess", "tractography", "registration"} {
		if got := f.toolkit.Calls(name); got != 1 {
			t.Fatalf("%s ran %d times, want 1", name, got)
		}
	}
}

func TestEditingRawInputRekeysWholeChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.graph.RunSubject(ctx, f.subj, f.set)
	if first.Err != nil {
		t.Fatal(first.Err)
	}

	edited := testsupport.LoadSubject(t, f.cfg.Paths.DataDir, "sub-01", testsupport.SubjectFiles{
		DWI: []byte("dwi volume sub-01 rescanned"),
	})
	second := f.graph.RunSubject(ctx, edited, f.set)
	if second.Err != nil {
		t.Fatal(second.Err)
	}

	for i, record := range second.Stages {
		if record.CacheHit {
			t.Fatalf("stage %s hit cache after input edit", record.Stage)
		}
		if record.Key == first.Stages[i].Key {
			t.Fatalf("stage %s key survived input edit", record.Stage)
		}
	}
	if got := f.toolkit.Calls("preprocess"); got != 2 {
		t.Fatalf("preprocess ran %d times, want 2", got)
	}
}

func TestParameterChangeRekeysOnlyDownstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.graph.RunSubject(ctx, f.subj, f.set)
	if first.Err != nil {
		t.Fatal(first.Err)
	}

	changed := f.set.WithOverrides(map[string]map[string]any{
		"registration": {"template": "mni152nlin2009c"},
	})
	second := f.graph.RunSubject(ctx, f.subj, changed)
	if second.Err != nil {
		t.Fatal(second.Err)
	}

	hits := make(map[string]bool, len(second.Stages))
	keys := make(map[string]bool, len(second.Stages))
	for i, record := range second.Stages {
		hits[record.Stage] = record.CacheHit
		keys[record.Stage] = record.Key == first.Stages[i].Key
	}

	// Tractography does not depend on registration, so it stays cached.
	for _, name := range []string{"preprocess", "tractography"} {
		if !hits[name] || !keys[name] {
			t.Fatalf("%s was recomputed by a registration parameter change", name)
		}
	}
	for _, name := range []string{"registration", "recognition", "profiles"} {
		if hits[name] || keys[name] {
			t.Fatalf("%s kept its key after a registration parameter change", name)
		}
	}
	if got := f.toolkit.Calls("tractography"); got != 1 {
		t.Fatalf("tractography ran %d times, want 1", got)
	}
}

func TestStageFailureLeavesUpstreamCachedForResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.toolkit.FailStage = "registration"
	failed := f.graph.RunSubject(ctx, f.subj, f.set)
	if failed.Err == nil {
		t.Fatal("expected registration failure")
	}
	if !errors.Is(failed.Err, services.ErrComputation) {
		t.Fatalf("err = %v, want computation error", failed.Err)
	}
	if len(failed.Stages) != 3 {
		t.Fatalf("stage count = %d, want 3 (abort at registration)", len(failed.Stages))
	}

	f.toolkit.FailStage = ""
	resumed := f.graph.RunSubject(ctx, f.subj, f.set)
	if resumed.Err != nil {
		t.Fatal(resumed.Err)
	}
	if !resumed.Stages[0].CacheHit || !resumed.Stages[1].CacheHit {
		t.Fatal("completed stages recomputed after resume")
	}
	if got := f.toolkit.Calls("preprocess"); got != 1 {
		t.Fatalf("preprocess ran %d times, want 1", got)
	}
	if got := f.toolkit.Calls("registration"); got != 2 {
		t.Fatalf("registration ran %d times, want 2", got)
	}
}

func TestKeysMatchesExecutedKeys(t *testing.T) {
	f := newFixture(t)

	planned, err := f.graph.Keys(f.subj, f.set)
	if err != nil {
		t.Fatal(err)
	}
	result := f.graph.RunSubject(context.Background(), f.subj, f.set)
	if result.Err != nil {
		t.Fatal(result.Err)
	}
	for _, record := range result.Stages {
		if planned[record.Stage] != record.Key {
			t.Fatalf("planned key for %s differs from executed key", record.Stage)
		}
	}
}

func TestEditingTemplatesRekeysRecognitionOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.graph.RunSubject(ctx, f.subj, f.set)
	if first.Err != nil {
		t.Fatal(first.Err)
	}

	templates := testsupport.DefaultTemplates()
	templates[0].Centroid = tract.Streamline{{1, 1, 0}, {1, 1, 5}, {1, 1, 9}}
	testsupport.WriteTemplates(t, f.cfg.Recognition.TemplatesPath, templates)
	graph, err := Build(f.store, logging.NewNop(), f.toolkit.Compute(), f.cfg.Recognition.TemplatesPath)
	if err != nil {
		t.Fatal(err)
	}

	second := graph.RunSubject(ctx, f.subj, f.set)
	if second.Err != nil {
		t.Fatal(second.Err)
	}
	for i, record := range second.Stages {
		switch record.Stage {
		case "recognition", "profiles":
			if record.CacheHit || record.Key == first.Stages[i].Key {
				t.Fatalf("%s kept its key after a template edit", record.Stage)
			}
		default:
			if !record.CacheHit {
				t.Fatalf("%s recomputed after a template edit", record.Stage)
			}
		}
	}
}

func TestCacheSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.graph.RunSubject(ctx, f.subj, f.set)
	if first.Err != nil {
		t.Fatal(first.Err)
	}

	// A fresh store and graph over the same artifact root stands in for a
	// restarted process: entry locations are derived from keys, not indexed.
	store, err := artifact.NewStore(f.cfg.Paths.ArtifactDir, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	graph, err := Build(store, logging.NewNop(), f.toolkit.Compute(), f.cfg.Recognition.TemplatesPath)
	if err != nil {
		t.Fatal(err)
	}

	second := graph.RunSubject(ctx, f.subj, f.set)
	if second.Err != nil {
		t.Fatal(second.Err)
	}
	for _, record := range second.Stages {
		if !record.CacheHit {
			t.Fatalf("stage %s recomputed after restart", record.Stage)
		}
	}
}

func TestNewRejectsUnsatisfiedDependency(t *testing.T) {
	f := newFixture(t)
	// Profiles alone requires bundles and scalar maps nothing produces.
	h := f.graph.stages[len(f.graph.stages)-1]
	_, err := New(f.store, logging.NewNop(), h)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestNewRejectsDuplicateStage(t *testing.T) {
	f := newFixture(t)
	h := f.graph.stages[0]
	_, err := New(f.store, logging.NewNop(), h, h)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration error", err)
	}
}
