package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB implementation of RunStore.
//
// Designed for:
//   - Production deployments requiring shared persistence
//   - Multiple daemon instances against one database
//   - Audit trails over run history
//
// The conditional-write semantics use MySQL's UNIQUE KEY constraints plus
// INSERT ... ON DUPLICATE KEY UPDATE with value guards, mirroring the
// SQLite implementation.
//
// The DSN format is the go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/reviewpilot?parseTime=true
//
// Never hardcode credentials; read the DSN from configuration or the
// environment.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewMySQLStore creates a MySQL-backed store, verifying the connection and
// creating the schema if it doesn't exist.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return s, nil
}

func (m *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			workflow_id VARCHAR(255) NOT NULL,
			run_key VARCHAR(512) NOT NULL,
			event JSON NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			updated_at VARCHAR(64) NOT NULL,
			UNIQUE KEY unique_workflow_key (workflow_id, run_key),
			INDEX idx_runs_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("failed to create workflow_runs table: %w", err)
	}

	resultsTable := `
		CREATE TABLE IF NOT EXISTS step_results (
			run_id VARCHAR(64) NOT NULL,
			step VARCHAR(255) NOT NULL,
			value JSON NULL,
			last_error TEXT NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			completed_at VARCHAR(64) NULL,
			PRIMARY KEY (run_id, step)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := m.db.ExecContext(ctx, resultsTable); err != nil {
		return fmt.Errorf("failed to create step_results table: %w", err)
	}

	return nil
}

// Close closes the database connection. Subsequent operations fail.
func (m *MySQLStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

func (m *MySQLStore) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// CreateRun inserts the run unless a run with the same (WorkflowID, RunKey)
// exists.
func (m *MySQLStore) CreateRun(ctx context.Context, run *Run) (*Run, bool, error) {
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	now := formatTime(time.Now().UTC())
	res, err := m.db.ExecContext(ctx, `
		INSERT IGNORE INTO workflow_runs (id, workflow_id, run_key, event, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.WorkflowID, run.RunKey, string(run.Event), string(run.Status), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	stored, err := m.FindRunByKey(ctx, run.WorkflowID, run.RunKey)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

// GetRun retrieves a run by ID.
func (m *MySQLStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, run_key, event, status, created_at, updated_at
		FROM workflow_runs WHERE id = ?`, runID)
	return scanRun(row)
}

// FindRunByKey retrieves a run by its deduplication key.
func (m *MySQLStore) FindRunByKey(ctx context.Context, workflowID, runKey string) (*Run, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT id, workflow_id, run_key, event, status, created_at, updated_at
		FROM workflow_runs WHERE workflow_id = ? AND run_key = ?`, workflowID, runKey)
	return scanRun(row)
}

// SetRunStatus transitions the run's status, refusing to leave a terminal
// state.
func (m *MySQLStore) SetRunStatus(ctx context.Context, runID string, status Status) error {
	if err := m.checkOpen(); err != nil {
		return err
	}

	res, err := m.db.ExecContext(ctx, `
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

	// MySQL reports zero affected rows for no-change updates as well;
	// distinguish missing, terminal, and unchanged by re-reading.
	run, err := m.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrRunTerminal
	}
	return nil
}

// ListRunsByStatus returns runs matching any of the given statuses in
// creation order.
func (m *MySQLStore) ListRunsByStatus(ctx context.Context, statuses ...Status) ([]*Run, error) {
	if err := m.checkOpen(); err != nil {
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

	rows, err := m.db.QueryContext(ctx, query, args...)
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
// semantics. The update branch is guarded on completed_at IS NULL so an
// already-successful step is never overwritten.
func (m *MySQLStore) InsertStepResult(ctx context.Context, runID, step string, value json.RawMessage) (*StepResult, bool, error) {
	if err := m.checkOpen(); err != nil {
		return nil, false, err
	}

	if _, err := m.GetRun(ctx, runID); err != nil {
		return nil, false, err
	}

	completedAt := formatTime(time.Now().UTC())
	res, err := m.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, step, value, last_error, attempts, completed_at)
		VALUES (?, ?, ?, '', 1, ?)
		ON DUPLICATE KEY UPDATE
			value = IF(completed_at IS NULL, VALUES(value), value),
			last_error = IF(completed_at IS NULL, '', last_error),
			attempts = IF(completed_at IS NULL, attempts + 1, attempts),
			completed_at = IF(completed_at IS NULL, VALUES(completed_at), completed_at)`,
		runID, step, string(value), completedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert step result: %w", err)
	}

	// RowsAffected is 1 for a fresh insert, 2 when the duplicate-key
	// update changed the row, and 0 when the guards rejected the write.
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	stored, err := m.GetStepResult(ctx, runID, step)
	if err != nil {
		return nil, false, err
	}
	return stored, affected > 0, nil
}

// GetStepResult retrieves the result for (runID, step).
func (m *MySQLStore) GetStepResult(ctx context.Context, runID, step string) (*StepResult, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	row := m.db.QueryRowContext(ctx, `
		SELECT step, value, last_error, attempts, completed_at
		FROM step_results WHERE run_id = ? AND step = ?`, runID, step)
	return scanStepResult(row)
}

// RecordStepFailure increments the attempt count and records the failure
// message, unless the step already succeeded.
func (m *MySQLStore) RecordStepFailure(ctx context.Context, runID, step, message string) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}

	if _, err := m.GetRun(ctx, runID); err != nil {
		return 0, err
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO step_results (run_id, step, value, last_error, attempts)
		VALUES (?, ?, NULL, ?, 1)
		ON DUPLICATE KEY UPDATE
			last_error = IF(completed_at IS NULL, VALUES(last_error), last_error),
			attempts = IF(completed_at IS NULL, attempts + 1, attempts)`,
		runID, step, message)
	if err != nil {
		return 0, fmt.Errorf("failed to record step failure: %w", err)
	}

	result, err := m.GetStepResult(ctx, runID, step)
	if err != nil {
		return 0, err
	}
	return result.Attempts, nil
}

// ListStepResults returns all step results for the run.
func (m *MySQLStore) ListStepResults(ctx context.Context, runID string) ([]*StepResult, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	if _, err := m.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `
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
