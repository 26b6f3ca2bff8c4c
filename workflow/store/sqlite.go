package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite implementation of RunStore.
//
// It stores runs and step results in a single-file database. Designed for:
//   - Single-process deployments with zero setup
//   - Development and testing with real persistence
//   - Prototyping before migrating to MySQL
//
// The store uses WAL mode for concurrent reads and relies on UNIQUE
// constraints for the conditional-write semantics: insert-if-absent on
// (workflow_id, run_key) for runs and on (run_id, step) for successful step
// values.
//
// Schema:
//   - workflow_runs: one row per run, with deduplication key
//   - step_results: one row per (run, step), success value written once
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewSQLiteStore creates a SQLite-backed store at the given path.
//
// The path may be a file location (e.g. "./reviewpilot.db") or ":memory:"
// for an ephemeral database. The store creates the database file and schema
// on first use, enables WAL mode, and sets a 5 second busy timeout.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id TEXT NOT NULL PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			run_key TEXT NOT NULL,
			event TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE(workflow_id, run_key)
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_status ON workflow_runs(status, created_at)"); err != nil {
		return fmt.Errorf("failed to create idx_runs_status: %w", err)
	}

	resultsTable := `
		CREATE TABLE IF NOT EXISTS step_results (
			run_id TEXT NOT NULL,
			step TEXT NOT NULL,
			value TEXT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			completed_at TEXT NULL,
			PRIMARY KEY (run_id, step)
		)
	`
	if _, err := s.db.ExecContext(ctx, resultsTable); err != nil {
		return fmt.Errorf("failed to create step_results table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_results_run_id ON step_results(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_results_run_id: %w", err)
	}

	return nil
}

// Close closes the database connection. Subsequent operations fail.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// CreateRun inserts the run unless a run with the same (WorkflowID, RunKey)
// exists. The UNIQUE constraint makes the insert race-safe: the loser of a
// concurrent insert reads back the winner's row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) (*Run, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, run_key, event, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id, run_key) DO NOTHING`,
		run.ID, run.WorkflowID, run.RunKey, string(run.Event), string(run.Status),
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	stored, err := s.FindRunByKey(ctx, run.WorkflowID, run.RunKey)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, run_key, event, status, created_at, updated_at
		FROM workflow_runs WHERE id = ?`, runID)
	return scanRun(row)
}

// FindRunByKey retrieves a run by its deduplication key.
func (s *SQLiteStore) FindRunByKey(ctx context.Context, workflowID, runKey string) (*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, run_key, event, status, created_at, updated_at
		FROM workflow_runs WHERE workflow_id = ? AND run_key = ?`, workflowID, runKey)
	return scanRun(row)
}

// SetRunStatus transitions the run's status. The guard on the current status
// keeps terminal runs terminal even under concurrent resumption attempts.
func (s *SQLiteStore) SetRunStatus(ctx context.Context, runID string, status Status) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_runs SET status = ?, updated_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(status), formatTime(time.Now().UTC()), runID,
		string(StatusCompleted), string(StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing updated: run is missing or already terminal.
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return ErrRunTerminal
}

// ListRunsByStatus returns runs matching any of the given statuses in
// creation order.
func (s *SQLiteStore) ListRunsByStatus(ctx context.Context, statuses ...Status) ([]*Run, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, workflow_id, run_key, event, status, created_at, updated_at
		FROM workflow_runs WHERE status IN (`
	args := make([]interface{}, 0, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args = append(args, string(st))
	}
	query += ") ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// InsertStepResult persists a successful step value with insert-if-absent
// semantics. The single upsert statement is the conditional write: the
// DO UPDATE clause is guarded on completed_at IS NULL, so a second success
// for the same (runID, step) affects zero rows and the caller reads back
// the winner's value.
func (s *SQLiteStore) InsertStepResult(ctx context.Context, runID, step string, value json.RawMessage) (*StepResult, bool, error) {
	if err := s.checkOpen(); err != nil {
		return nil, false, err
	}

	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, step, value, last_error, attempts, completed_at)
		VALUES (?, ?, ?, '', 1, ?)
		ON CONFLICT(run_id, step) DO UPDATE SET
			value = excluded.value,
			last_error = '',
			attempts = step_results.attempts + 1,
			completed_at = excluded.completed_at
		WHERE step_results.completed_at IS NULL`,
		runID, step, string(value), formatTime(time.Now().UTC()))
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert step result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	stored, err := s.GetStepResult(ctx, runID, step)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

// GetStepResult retrieves the result for (runID, step).
func (s *SQLiteStore) GetStepResult(ctx context.Context, runID, step string) (*StepResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT step, value, last_error, attempts, completed_at
		FROM step_results WHERE run_id = ? AND step = ?`, runID, step)
	return scanStepResult(row)
}

// RecordStepFailure increments the attempt count and records the failure
// message, unless the step already succeeded.
func (s *SQLiteStore) RecordStepFailure(ctx context.Context, runID, step, message string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	if _, err := s.GetRun(ctx, runID); err != nil {
		return 0, err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, step, value, last_error, attempts)
		VALUES (?, ?, NULL, ?, 1)
		ON CONFLICT(run_id, step) DO UPDATE SET
			last_error = excluded.last_error,
			attempts = step_results.attempts + 1
		WHERE step_results.completed_at IS NULL`,
		runID, step, message)
	if err != nil {
		return 0, fmt.Errorf("failed to record step failure: %w", err)
	}

	result, err := s.GetStepResult(ctx, runID, step)
	if err != nil {
		return 0, err
	}
	return result.Attempts, nil
}

// ListStepResults returns all step results for the run.
func (s *SQLiteStore) ListStepResults(ctx context.Context, runID string) ([]*StepResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step, value, last_error, attempts, completed_at
		FROM step_results WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*StepResult
	for rows.Next() {
		result, err := scanStepResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var event, status, createdAt, updatedAt string

	err := row.Scan(&run.ID, &run.WorkflowID, &run.RunKey, &event, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Event = json.RawMessage(event)
	run.Status = Status(status)
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

func scanStepResult(row rowScanner) (*StepResult, error) {
	var result StepResult
	var value, completedAt sql.NullString

	err := row.Scan(&result.Step, &value, &result.LastError, &result.Attempts, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan step result: %w", err)
	}

	if value.Valid {
		result.Value = json.RawMessage(value.String)
	}
	if completedAt.Valid {
		if result.CompletedAt, err = parseTime(completedAt.String); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t, nil
}
