// Package store provides durable persistence for workflow runs and step
// results.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested run or step result does not exist.
var ErrNotFound = errors.New("not found")

// ErrRunTerminal is returned when attempting to change the status of a run
// that has already reached Completed or Failed. Terminal runs are never
// re-entered.
var ErrRunTerminal = errors.New("run is in a terminal state")

// Status is the lifecycle state of a workflow run.
//
// Transitions: Pending → Running → {Completed, Failed}. Completed and
// Failed are terminal.
type Status string

const (
	// StatusPending means the run row exists but no step has started.
	StatusPending Status = "pending"

	// StatusRunning means the run is actively executing steps. A run found
	// in this state at startup was interrupted by a crash and is resumed.
	StatusRunning Status = "running"

	// StatusCompleted means every step finished successfully. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed means a step exhausted its retry budget or failed
	// permanently. Terminal; a new triggering event is required to retry.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is Completed or Failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Run is the durable record of one workflow execution.
type Run struct {
	// ID is the unique run identifier (UUID).
	ID string

	// WorkflowID is the definition this run executes.
	WorkflowID string

	// RunKey is the deduplication key derived from the triggering event.
	// (WorkflowID, RunKey) is unique: redelivered events converge on the
	// same run instead of creating a new one per delivery.
	RunKey string

	// Event is the JSON-encoded triggering event, kept for resumption.
	Event json.RawMessage

	// Status is the current lifecycle state.
	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepResult is the persisted outcome of one step within a run.
//
// A successful value is written at most once and never overwritten;
// failures accumulate in Attempts and LastError until a success lands.
type StepResult struct {
	// Step is the step name, unique within the run.
	Step string

	// Value is the JSON-encoded step return value. Nil until the step
	// succeeds.
	Value json.RawMessage

	// LastError is the most recent failure message, empty after success.
	LastError string

	// Attempts counts every invocation of the step, failures included.
	Attempts int

	// CompletedAt is when the successful value was persisted. Zero until
	// the step succeeds.
	CompletedAt time.Time
}

// Completed reports whether a successful value has been persisted.
func (r *StepResult) Completed() bool {
	return !r.CompletedAt.IsZero()
}

// RunStore persists workflow runs and their step results.
//
// All mutation goes through conditional writes: CreateRun and
// InsertStepResult are insert-if-absent, so two racing executions of the
// same logical work converge on a single winner. There are no global locks;
// the store is the only shared mutable resource between runs.
//
// Implementations:
//   - MemStore: in-memory, for tests and development
//   - SQLiteStore: single-file persistence (modernc.org/sqlite)
//   - MySQLStore: shared-server persistence (go-sql-driver/mysql)
type RunStore interface {
	// CreateRun inserts the run if no run with the same (WorkflowID,
	// RunKey) exists. Returns the stored run and whether this call
	// created it; when created is false the returned run is the existing
	// one and the argument was discarded.
	CreateRun(ctx context.Context, run *Run) (stored *Run, created bool, err error)

	// GetRun retrieves a run by ID. Returns ErrNotFound if absent.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// FindRunByKey retrieves a run by its deduplication key.
	// Returns ErrNotFound if absent.
	FindRunByKey(ctx context.Context, workflowID, runKey string) (*Run, error)

	// SetRunStatus transitions the run's status. Returns ErrRunTerminal
	// without modification if the run already reached a terminal state,
	// and ErrNotFound if the run does not exist.
	SetRunStatus(ctx context.Context, runID string, status Status) error

	// ListRunsByStatus returns all runs whose status matches any of the
	// given statuses, ordered by creation time. Used by the startup scan
	// that resumes interrupted runs.
	ListRunsByStatus(ctx context.Context, statuses ...Status) ([]*Run, error)

	// InsertStepResult persists a successful step value if and only if no
	// successful value exists for (runID, step). Returns the stored
	// result and whether this call inserted it; on conflict the loser
	// receives the winner's result with inserted == false. The stored
	// attempt count includes this invocation.
	InsertStepResult(ctx context.Context, runID, step string, value json.RawMessage) (result *StepResult, inserted bool, err error)

	// GetStepResult retrieves the result for (runID, step).
	// Returns ErrNotFound when the step has never been attempted.
	GetStepResult(ctx context.Context, runID, step string) (*StepResult, error)

	// RecordStepFailure increments the attempt count for (runID, step)
	// and records the failure message. A no-op returning the existing
	// attempt count if the step already succeeded.
	RecordStepFailure(ctx context.Context, runID, step, message string) (attempts int, err error)

	// ListStepResults returns all step results for the run, in no
	// particular order.
	ListStepResults(ctx context.Context, runID string) ([]*StepResult, error)
}
