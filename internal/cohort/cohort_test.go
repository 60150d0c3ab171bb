package cohort

import (
	"context"
	"errors"
	"testing"

	"fascicle/internal/artifact"
	"fascicle/internal/config"
	"fascicle/internal/logging"
	"fascicle/internal/params"
	"fascicle/internal/pipeline"
	"fascicle/internal/services"
	"fascicle/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	toolkit *testsupport.Toolkit
	sched   *Scheduler
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	toolkit := testsupport.NewToolkit()
	store, err := artifact.NewStore(cfg.Paths.ArtifactDir, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	graph, err := pipeline.Build(store, logging.NewNop(), toolkit.Compute(), cfg.Recognition.TemplatesPath)
	if err != nil {
		t.Fatal(err)
	}
	sched, err := New(graph, params.FromConfig(cfg), cfg.Paths.DataDir, cfg.Cohort.Workers, cfg.Overrides, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{cfg: cfg, toolkit: toolkit, sched: sched}
}

func TestRunProcessesWholeCohort(t *testing.T) {
	f := newFixture(t)
	ids := []string{"sub-01", "sub-02", "sub-03"}
	for _, id := range ids {
		testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, id, testsupport.SubjectFiles{})
	}

	result := f.sched.Run(context.Background(), ids)
	if result.RunID == "" {
		t.Fatal("run id is empty")
	}
	if result.Succeeded() != 3 || result.Failed() != 0 {
		t.Fatalf("succeeded = %d, failed = %d", result.Succeeded(), result.Failed())
	}
	for i, outcome := range result.Outcomes {
		if outcome.Subject != ids[i] {
			t.Fatalf("outcome order: got %s at %d", outcome.Subject, i)
		}
		if len(outcome.Result.Stages) != 5 {
			t.Fatalf("subject %s ran %d stages", outcome.Subject, len(outcome.Result.Stages))
		}
	}
	// Distinct raw inputs mean no cross-subject cache sharing.
	if got := f.toolkit.Calls("preprocess"); got != 3 {
		t.Fatalf("preprocess ran %d times, want 3", got)
	}
}

func TestOneSubjectFailureDoesNotAbortCohort(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, "sub-01", testsupport.SubjectFiles{})
	testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, "sub-03", testsupport.SubjectFiles{})
	// sub-02 has no data directory at all.

	result := f.sched.Run(context.Background(), []string{"sub-01", "sub-02", "sub-03"})
	if result.Succeeded() != 2 || result.Failed() != 1 {
		t.Fatalf("succeeded = %d, failed = %d", result.Succeeded(), result.Failed())
	}
	bad := result.Outcomes[1]
	if !bad.Failed() || !errors.Is(bad.Err, services.ErrData) {
		t.Fatalf("sub-02 outcome = %+v", bad)
	}
}

func TestInconsistentGradientTableIsIsolated(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, "sub-01", testsupport.SubjectFiles{})
	testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, "sub-02", testsupport.SubjectFiles{
		Bval: []byte("0 1000 1000 2000\n"),
	})

	result := f.sched.Run(context.Background(), []string{"sub-01", "sub-02"})
	if result.Succeeded() != 1 || result.Failed() != 1 {
		t.Fatalf("succeeded = %d, failed = %d", result.Succeeded(), result.Failed())
	}
	if !errors.Is(result.Outcomes[1].Err, services.ErrData) {
		t.Fatalf("err = %v, want data error", result.Outcomes[1].Err)
	}
}

func TestCancellationFailsRemainingSubjects(t *testing.T) {
	f := newFixture(t, testsupport.WithWorkers(1))
	ids := []string{"sub-01", "sub-02", "sub-03"}
	for _, id := range ids {
		testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, id, testsupport.SubjectFiles{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.sched.Run(ctx, ids)
	if result.Failed() != len(ids) {
		t.Fatalf("failed = %d, want %d", result.Failed(), len(ids))
	}
}

func TestPerSubjectOverridesChangeTheKeyChain(t *testing.T) {
	shared := testsupport.SubjectFiles{
		DWI:  []byte("shared dwi"),
		Anat: []byte("shared anat"),
	}
	f := newFixture(t)
	f.cfg.Overrides = map[string]map[string]map[string]any{
		"sub-02": {"tractography": {"step_size_mm": 0.25}},
	}
	sched, err := New(f.sched.graph, f.sched.set, f.cfg.Paths.DataDir, 2, f.cfg.Overrides, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, "sub-01", shared)
	testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, "sub-02", shared)

	result := sched.Run(context.Background(), []string{"sub-01", "sub-02"})
	if result.Failed() != 0 {
		t.Fatalf("failures: %+v", result.Outcomes)
	}

	keys := func(o Outcome) map[string]string {
		m := make(map[string]string)
		for _, record := range o.Result.Stages {
			m[record.Stage] = record.Key.Digest
		}
		return m
	}
	first, second := keys(result.Outcomes[0]), keys(result.Outcomes[1])
	if first["preprocess"] != second["preprocess"] {
		t.Fatal("identical inputs and options derived different preprocess keys")
	}
	for _, name := range []string{"tractography", "recognition", "profiles"} {
		if first[name] == second[name] {
			t.Fatalf("override did not re-key %s", name)
		}
	}
	if first["registration"] != second["registration"] {
		t.Fatal("registration key changed by a tractography override")
	}
}

func TestDiscoverSubjectsListsDirectoriesSorted(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"sub-03", "sub-01", "sub-02"} {
		testsupport.WriteSubjectFiles(t, f.cfg.Paths.DataDir, id, testsupport.SubjectFiles{})
	}

	ids, err := DiscoverSubjects(f.cfg.Paths.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"sub-01", "sub-02", "sub-03"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
}
