// Package ledger persists cohort run history to SQLite. The ledger is an
// observability record: the artifact store alone decides what is cached, so
// losing the ledger never causes recomputation.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"fascicle/internal/cohort"
	"fascicle/internal/services"
)

// Ledger records run, subject, and stage outcomes in a SQLite database.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the ledger database and applies
// migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	ledger := &Ledger{db: db, path: path}
	if err := ledger.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Path returns the database file location.
func (l *Ledger) Path() string {
	return l.path
}

// Subject and stage statuses stored in the ledger.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RecordRun persists one cohort result with every subject outcome and stage
// event, in a single transaction.
func (l *Ledger) RecordRun(ctx context.Context, result *cohort.Result, paramsDigest string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return services.Wrap(services.ErrStorage, "", "ledger", "begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, params_digest, subjects, succeeded, failed)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Started.Format(time.RFC3339Nano),
		result.Finished.Format(time.RFC3339Nano),
		paramsDigest,
		len(result.Outcomes),
		result.Succeeded(),
		result.Failed(),
	)
	if err != nil {
		return services.Wrap(services.ErrStorage, "", "ledger", "insert run", err)
	}

	for _, outcome := range result.Outcomes {
		status := StatusCompleted
		var outcomeErr any
		if outcome.Failed() {
			status = StatusFailed
			outcomeErr = outcome.Err.Error()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO subject_runs (run_id, subject, status, error, duration_ms)
             VALUES (?, ?, ?, ?, ?)`,
			result.RunID, outcome.Subject, status, outcomeErr, outcome.Duration.Milliseconds(),
		)
		if err != nil {
			return services.Wrap(services.ErrStorage, "", "ledger", "insert subject run", err)
		}
		subjectRunID, err := res.LastInsertId()
		if err != nil {
			return services.Wrap(services.ErrStorage, "", "ledger", "subject run id", err)
		}

		if outcome.Result == nil {
			continue
		}
		for _, record := range outcome.Result.Stages {
			stageStatus := StatusCompleted
			var stageErr any
			if record.Err != nil {
				stageStatus = StatusFailed
				stageErr = record.Err.Error()
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO stage_events (subject_run_id, stage, provenance_key, cache_hit, status, error, duration_ms)
                 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				subjectRunID, record.Stage, record.Key.Stage+":"+record.Key.Digest, boolToInt(record.CacheHit),
				stageStatus, stageErr, record.Duration.Milliseconds(),
			)
			if err != nil {
				return services.Wrap(services.ErrStorage, "", "ledger", "insert stage event", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return services.Wrap(services.ErrStorage, "", "ledger", "commit run", err)
	}
	return nil
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID        string
	Started   time.Time
	Finished  time.Time
	Subjects  int
	Succeeded int
	Failed    int
}

// StageEvent is one recorded stage invocation.
type StageEvent struct {
	Stage      string
	Key        string
	CacheHit   bool
	Status     string
	Error      string
	DurationMS int64
}

// SubjectRecord is one subject's recorded outcome with its stage events.
type SubjectRecord struct {
	Subject    string
	Status     string
	Error      string
	DurationMS int64
	Stages     []StageEvent
}

// RunDetail is a run summary plus every subject record.
type RunDetail struct {
	RunSummary
	Records []SubjectRecord
}

// Runs returns run history, newest first, up to limit rows (0 for all).
func (l *Ledger) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT id, started_at, finished_at, subjects, succeeded, failed
              FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "query runs", err)
	}
	defer rows.Close()

	var summaries []RunSummary
	for rows.Next() {
		summary, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "iterate runs", err)
	}
	return summaries, nil
}

// Run returns the full record of one run by id.
func (l *Ledger) Run(ctx context.Context, id string) (*RunDetail, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, subjects, succeeded, failed
         FROM runs WHERE id = ?`, id)
	summary, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "run "+id+" not found", nil)
	}
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{RunSummary: summary}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, subject, status, COALESCE(error, ''), duration_ms
         FROM subject_runs WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "query subject runs", err)
	}
	defer rows.Close()

	subjectIDs := make([]int64, 0)
	for rows.Next() {
		var rowID int64
		var record SubjectRecord
		if err := rows.Scan(&rowID, &record.Subject, &record.Status, &record.Error, &record.DurationMS); err != nil {
			return nil, services.Wrap(services.ErrStorage, "", "ledger", "scan subject run", err)
		}
		subjectIDs = append(subjectIDs, rowID)
		detail.Records = append(detail.Records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "iterate subject runs", err)
	}

	for i, rowID := range subjectIDs {
		stages, err := l.stageEvents(ctx, rowID)
		if err != nil {
			return nil, err
		}
		detail.Records[i].Stages = stages
	}
	return detail, nil
}

func (l *Ledger) stageEvents(ctx context.Context, subjectRunID int64) ([]StageEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT stage, provenance_key, cache_hit, status, COALESCE(error, ''), duration_ms
         FROM stage_events WHERE subject_run_id = ? ORDER BY id`, subjectRunID)
	if err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "query stage events", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var event StageEvent
		var hit int
		if err := rows.Scan(&event.Stage, &event.Key, &hit, &event.Status, &event.Error, &event.DurationMS); err != nil {
			return nil, services.Wrap(services.ErrStorage, "", "ledger", "scan stage event", err)
		}
		event.CacheHit = hit != 0
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStorage, "", "ledger", "iterate stage events", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunSummary, error) {
	var summary RunSummary
	var started, finished string
	if err := row.Scan(&summary.ID, &started, &finished, &summary.Subjects, &summary.Succeeded, &summary.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunSummary{}, err
		}
		return RunSummary{}, services.Wrap(services.ErrStorage, "", "ledger", "scan run", err)
	}
	summary.Started, _ = time.Parse(time.RFC3339Nano, started)
	summary.Finished, _ = time.Parse(time.RFC3339Nano, finished)
	return summary, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
