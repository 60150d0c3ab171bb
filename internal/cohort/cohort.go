// Package cohort schedules many subjects through one pipeline graph with a
// bounded worker pool. One subject's failure never aborts the cohort; its
// outcome is recorded and the workers move on.
package cohort

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fascicle/internal/logging"
	"fascicle/internal/params"
	"fascicle/internal/pipeline"
	"fascicle/internal/services"
	"fascicle/internal/subject"
)

// Outcome is one subject's result within a cohort run.
type Outcome struct {
	Subject  string
	Result   *pipeline.SubjectResult
	Err      error
	Duration time.Duration
}

// Failed reports whether the subject did not reach the end of the pipeline.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Result is the full cohort run outcome, in dispatch order.
type Result struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Outcomes []Outcome
}

// Succeeded returns the number of subjects that completed every stage.
func (r *Result) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Failed() {
			n++
		}
	}
	return n
}

// Failed returns the number of subjects that did not complete.
func (r *Result) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// Scheduler fans a subject list out to a fixed number of workers, each
// running the shared graph. The graph and parameter set are shared by
// reference; both are immutable during a run.
type Scheduler struct {
	graph     *pipeline.Graph
	set       *params.Set
	dataDir   string
	workers   int
	overrides map[string]map[string]map[string]any
	logger    *slog.Logger
}

// New returns a scheduler running up to workers subjects concurrently.
// overrides maps subject id to per-stage option overrides.
func New(graph *pipeline.Graph, set *params.Set, dataDir string, workers int, overrides map[string]map[string]map[string]any, logger *slog.Logger) (*Scheduler, error) {
	if graph == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "cohort", "pipeline graph is required", nil)
	}
	if workers < 1 {
		return nil, services.Wrap(services.ErrConfiguration, "", "cohort", "worker count must be at least 1", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		graph:     graph,
		set:       set,
		dataDir:   dataDir,
		workers:   workers,
		overrides: overrides,
		logger:    logging.NewComponentLogger(logger, "cohort"),
	}, nil
}

// Run processes the subjects and returns every outcome. Cancelling ctx stops
// dispatching new subjects and fails in-flight ones at their next stage
// boundary; completed work stays cached.
func (s *Scheduler) Run(ctx context.Context, subjectIDs []string) *Result {
	result := &Result{
		RunID:    uuid.NewString(),
		Started:  time.Now().UTC(),
		Outcomes: make([]Outcome, len(subjectIDs)),
	}
	ctx = services.WithRunID(ctx, result.RunID)
	logger := s.logger.With(logging.String(logging.FieldRunID, result.RunID))
	logger.Info("cohort run started",
		logging.Int("subjects", len(subjectIDs)),
		logging.Int("workers", s.workers),
	)

	type job struct {
		index int
		id    string
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				result.Outcomes[j.index] = s.runOne(ctx, logger, j.id)
			}
		}()
	}

dispatch:
	for i, id := range subjectIDs {
		select {
		case <-ctx.Done():
			for k := i; k < len(subjectIDs); k++ {
				result.Outcomes[k] = Outcome{
					Subject: subjectIDs[k],
					Err: services.Wrap(services.ErrComputation, "", "cohort",
						"run canceled before dispatch", ctx.Err()),
				}
			}
			break dispatch
		case jobs <- job{index: i, id: id}:
		}
	}
	close(jobs)
	wg.Wait()

	result.Finished = time.Now().UTC()
	logger.Info("cohort run finished",
		logging.Int("succeeded", result.Succeeded()),
		logging.Int("failed", result.Failed()),
		logging.Duration("duration", result.Finished.Sub(result.Started)),
	)
	return result
}

func (s *Scheduler) runOne(ctx context.Context, logger *slog.Logger, id string) Outcome {
	started := time.Now()
	ctx = services.WithSubject(ctx, id)

	subj, err := subject.Load(s.dataDir, id, "")
	if err != nil {
		logger.Error("subject load failed",
			logging.String(logging.FieldSubject, id),
			logging.Error(err),
		)
		return Outcome{Subject: id, Err: err, Duration: time.Since(started)}
	}

	set := s.set
	if overrides, ok := s.overrides[id]; ok {
		set = set.WithOverrides(overrides)
	}

	run := s.graph.RunSubject(ctx, subj, set)
	return Outcome{
		Subject:  subj.Key(),
		Result:   run,
		Err:      run.Err,
		Duration: time.Since(started),
	}
}

// DiscoverSubjects lists the subject directories under dataDir in sorted
// order, used when the configuration names no explicit cohort.
func DiscoverSubjects(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, services.Wrap(services.ErrData, "", "cohort", "list data directory "+dataDir, err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
