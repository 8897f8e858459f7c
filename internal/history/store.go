// Package history persists pipeline run records in SQLite so the daemon
// status endpoint and the history CLI can report past runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// RunRecord is one pipeline run.
type RunRecord struct {
	ID       string
	Trigger  string
	Ref      string
	Revision string
	Outcome  string // running|published|discarded|failed|canceled
	Started  time.Time
	Finished time.Time
}

// JobRecord is one variant job of a run.
type JobRecord struct {
	RunID       string
	Variant     string
	Status      string
	Error       string
	PackageName string
	PackageSize int64
	Duration    time.Duration
}

// Store is a SQLite-backed run history store.
// Use ":memory:" for an in-memory database, or a file path for persistence.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens the database and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		trigger_kind TEXT NOT NULL,
		ref TEXT NOT NULL,
		revision TEXT,
		outcome TEXT NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER
	);
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		variant TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		package_name TEXT,
		package_size INTEGER,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_run_id ON jobs(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRunStart inserts a run in the running state.
func (s *Store) RecordRunStart(ctx context.Context, run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, trigger_kind, ref, revision, outcome, started) VALUES (?, ?, ?, ?, 'running', ?)",
		run.ID, run.Trigger, run.Ref, run.Revision, run.Started.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordRunFinish stores the terminal outcome of a run.
func (s *Store) RecordRunFinish(ctx context.Context, runID, outcome string, finished time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET outcome = ?, finished = ? WHERE id = ?",
		outcome, finished.Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// RecordJob appends a finished variant job row.
func (s *Store) RecordJob(ctx context.Context, job JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO jobs (run_id, variant, status, error, package_name, package_size, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		job.RunID, job.Variant, job.Status, job.Error, job.PackageName, job.PackageSize, job.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, trigger_kind, ref, COALESCE(revision,''), outcome, started, COALESCE(finished,0) FROM runs ORDER BY started DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Trigger, &r.Ref, &r.Revision, &r.Outcome, &started, &finished); err != nil {
			return nil, err
		}
		r.Started = time.Unix(started, 0)
		if finished > 0 {
			r.Finished = time.Unix(finished, 0)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Run returns one run by ID, or nil when it does not exist.
func (s *Store) Run(ctx context.Context, runID string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx,
		"SELECT id, trigger_kind, ref, COALESCE(revision,''), outcome, started, COALESCE(finished,0) FROM runs WHERE id = ?",
		runID,
	)
	var r RunRecord
	var started, finished int64
	if err := row.Scan(&r.ID, &r.Trigger, &r.Ref, &r.Revision, &r.Outcome, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query run: %w", err)
	}
	r.Started = time.Unix(started, 0)
	if finished > 0 {
		r.Finished = time.Unix(finished, 0)
	}
	return &r, nil
}

// JobsForRun returns the variant jobs recorded for one run.
func (s *Store) JobsForRun(ctx context.Context, runID string) ([]JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, variant, status, COALESCE(error,''), COALESCE(package_name,''), COALESCE(package_size,0), COALESCE(duration_ms,0) FROM jobs WHERE run_id = ? ORDER BY id",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		var durMS int64
		if err := rows.Scan(&j.RunID, &j.Variant, &j.Status, &j.Error, &j.PackageName, &j.PackageSize, &durMS); err != nil {
			return nil, err
		}
		j.Duration = time.Duration(durMS) * time.Millisecond
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
