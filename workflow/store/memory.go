package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemStore is an in-memory implementation of RunStore.
//
// Designed for:
//   - Testing and development
//   - Single-process deployments where durability isn't required
//
// MemStore is thread-safe and supports concurrent access. Data is lost when
// the process terminates; for crash recovery use SQLiteStore or MySQLStore.
type MemStore struct {
	mu      sync.RWMutex
	runs    map[string]*Run                   // runID -> run
	keys    map[string]string                 // workflowID + "\x00" + runKey -> runID
	results map[string]map[string]*StepResult // runID -> step -> result
	order   []string                          // runIDs in creation order
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:    make(map[string]*Run),
		keys:    make(map[string]string),
		results: make(map[string]map[string]*StepResult),
	}
}

func dedupKey(workflowID, runKey string) string {
	return workflowID + "\x00" + runKey
}

// CreateRun inserts the run unless a run with the same (WorkflowID, RunKey)
// already exists, in which case the existing run is returned unchanged.
func (m *MemStore) CreateRun(_ context.Context, run *Run) (*Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.keys[dedupKey(run.WorkflowID, run.RunKey)]; ok {
		return copyRun(m.runs[existingID]), false, nil
	}

	now := time.Now()
	stored := copyRun(run)
	stored.CreatedAt = now
	stored.UpdatedAt = now

	m.runs[stored.ID] = stored
	m.keys[dedupKey(stored.WorkflowID, stored.RunKey)] = stored.ID
	m.results[stored.ID] = make(map[string]*StepResult)
	m.order = append(m.order, stored.ID)

	return copyRun(stored), true, nil
}

// GetRun retrieves a run by ID.
func (m *MemStore) GetRun(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(run), nil
}

// FindRunByKey retrieves a run by its deduplication key.
func (m *MemStore) FindRunByKey(_ context.Context, workflowID, runKey string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runID, ok := m.keys[dedupKey(workflowID, runKey)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(m.runs[runID]), nil
}

// SetRunStatus transitions the run's status, refusing to leave a terminal
// state.
func (m *MemStore) SetRunStatus(_ context.Context, runID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if run.Status.Terminal() {
		return ErrRunTerminal
	}

	run.Status = status
	run.UpdatedAt = time.Now()
	return nil
}

// ListRunsByStatus returns runs matching any of the given statuses in
// creation order.
func (m *MemStore) ListRunsByStatus(_ context.Context, statuses ...Status) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	match := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		match[s] = true
	}

	var runs []*Run
	for _, id := range m.order {
		if run := m.runs[id]; match[run.Status] {
			runs = append(runs, copyRun(run))
		}
	}
	return runs, nil
}

// InsertStepResult persists a successful step value with insert-if-absent
// semantics: a second writer for the same (runID, step) observes the first
// writer's value instead of overwriting it.
func (m *MemStore) InsertStepResult(_ context.Context, runID, step string, value json.RawMessage) (*StepResult, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps, ok := m.results[runID]
	if !ok {
		return nil, false, ErrNotFound
	}

	if existing, ok := steps[step]; ok && existing.Completed() {
		return copyResult(existing), false, nil
	}

	result, ok := steps[step]
	if !ok {
		result = &StepResult{Step: step}
		steps[step] = result
	}

	result.Value = append(json.RawMessage(nil), value...)
	result.LastError = ""
	result.Attempts++
	result.CompletedAt = time.Now()

	return copyResult(result), true, nil
}

// GetStepResult retrieves the result for (runID, step).
func (m *MemStore) GetStepResult(_ context.Context, runID, step string) (*StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps, ok := m.results[runID]
	if !ok {
		return nil, ErrNotFound
	}
	result, ok := steps[step]
	if !ok {
		return nil, ErrNotFound
	}
	return copyResult(result), nil
}

// RecordStepFailure increments the attempt count and records the failure
// message, unless the step already succeeded.
func (m *MemStore) RecordStepFailure(_ context.Context, runID, step, message string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	steps, ok := m.results[runID]
	if !ok {
		return 0, ErrNotFound
	}

	result, ok := steps[step]
	if !ok {
		result = &StepResult{Step: step}
		steps[step] = result
	}
	if result.Completed() {
		return result.Attempts, nil
	}

	result.Attempts++
	result.LastError = message
	return result.Attempts, nil
}

// ListStepResults returns all step results for the run.
func (m *MemStore) ListStepResults(_ context.Context, runID string) ([]*StepResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps, ok := m.results[runID]
	if !ok {
		return nil, ErrNotFound
	}

	results := make([]*StepResult, 0, len(steps))
	for _, r := range steps {
		results = append(results, copyResult(r))
	}
	return results, nil
}

func copyRun(run *Run) *Run {
	c := *run
	c.Event = append(json.RawMessage(nil), run.Event...)
	return &c
}

func copyResult(r *StepResult) *StepResult {
	c := *r
	c.Value = append(json.RawMessage(nil), r.Value...)
	return &c
}
