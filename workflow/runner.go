package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reviewpilot/reviewpilot/workflow/emit"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

// Runner drives workflow definitions for triggering events: it creates or
// deduplicates runs, enforces the per-workflow concurrency ceiling, executes
// steps strictly in order through the Executor, applies the retry policy on
// step failure, and records the terminal status.
//
// Runs execute concurrently as independent goroutines; a single run never
// has two of its own steps executing simultaneously. The Run State Store is
// the only shared mutable resource, and all mutation goes through its
// conditional writes.
type Runner struct {
	store    store.RunStore
	emitter  emit.Emitter
	metrics  *Metrics
	executor *Executor

	mu   sync.Mutex
	sems map[string]chan struct{}

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. The emitter and metrics may be nil.
func NewRunner(st store.RunStore, emitter emit.Emitter, metrics *Metrics) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:    st,
		emitter:  emitter,
		metrics:  metrics,
		executor: NewExecutor(st, emitter, metrics),
		sems:     make(map[string]chan struct{}),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Dispatch creates or resumes the run for the given event and starts
// driving it asynchronously. Returns the durable run ID once the run row
// exists; it never waits for the workflow to complete.
//
// Redelivered events converge: if a run with the same derived run key
// already exists, Dispatch attaches to it and returns its ID without
// creating a second run. A terminal run is never re-entered.
func (r *Runner) Dispatch(ctx context.Context, def *Definition, event Event) (string, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}

	run := &store.Run{
		ID:         uuid.NewString(),
		WorkflowID: def.ID,
		RunKey:     r.runKey(def, event),
		Event:      raw,
		Status:     store.StatusPending,
	}

	stored, created, err := r.store.CreateRun(ctx, run)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	if !created {
		r.emit(emit.Event{
			RunID:    stored.ID,
			Workflow: def.ID,
			Msg:      "run_attached",
			Meta:     map[string]interface{}{"event": event.Name, "status": string(stored.Status)},
		})
		return stored.ID, nil
	}

	r.emit(emit.Event{
		RunID:    stored.ID,
		Workflow: def.ID,
		Msg:      "run_created",
		Meta:     map[string]interface{}{"event": event.Name},
	})

	r.wg.Add(1)
	go r.drive(def, stored)

	return stored.ID, nil
}

// Resume picks up a previously created run, typically one found in a
// non-terminal state after a restart. Already-completed steps short-circuit
// through the Executor's cache, so resumption re-executes only the pending
// suffix of the workflow.
func (r *Runner) Resume(def *Definition, run *store.Run) {
	r.emit(emit.Event{
		RunID:    run.ID,
		Workflow: def.ID,
		Msg:      "run_resumed",
	})

	r.wg.Add(1)
	go r.drive(def, run)
}

// Recover scans the store for runs interrupted before reaching a terminal
// state and resumes each. Call once at startup after registering all
// workflow definitions. Returns the number of runs resumed.
func (r *Runner) Recover(ctx context.Context, registry *Registry) (int, error) {
	runs, err := r.store.ListRunsByStatus(ctx, store.StatusPending, store.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to scan for interrupted runs: %w", err)
	}

	resumed := 0
	for _, run := range runs {
		def, ok := registry.Lookup(run.WorkflowID)
		if !ok {
			r.emit(emit.Event{
				RunID:    run.ID,
				Workflow: run.WorkflowID,
				Msg:      "run_orphaned",
				Meta:     map[string]interface{}{"error": "no definition registered for workflow"},
			})
			continue
		}
		r.Resume(def, run)
		resumed++
	}
	return resumed, nil
}

// Shutdown waits for in-flight runs to finish. If ctx expires first, the
// runner cancels the remaining runs (their current step or backoff observes
// the cancellation) and returns ctx.Err(). Interrupted runs keep their
// Pending or Running status and are picked up by Recover on next start.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// runKey derives the deduplication key for an event.
func (r *Runner) runKey(def *Definition, event Event) string {
	if def.RunKeyFunc != nil {
		if key := def.RunKeyFunc(event); key != "" {
			return key
		}
	}
	if event.IdempotencyKey != "" {
		return event.IdempotencyKey
	}
	// No stable key: every delivery is its own run.
	return uuid.NewString()
}

// semaphore returns the admission semaphore for a definition, or nil when
// the workflow is unbounded.
func (r *Runner) semaphore(def *Definition) chan struct{} {
	if def.Concurrency <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sem, ok := r.sems[def.ID]
	if !ok {
		sem = make(chan struct{}, def.Concurrency)
		r.sems[def.ID] = sem
	}
	return sem
}

// drive owns a run from admission through its terminal status.
func (r *Runner) drive(def *Definition, run *store.Run) {
	defer r.wg.Done()

	ctx := r.baseCtx

	if sem := r.semaphore(def); sem != nil {
		r.metrics.QueueEnter(def.ID)
		admitted := r.admit(ctx, def, sem)
		r.metrics.QueueLeave(def.ID)

		if !admitted {
			if r.interrupted() {
				// Shutdown raced the admission wait. The run is still
				// Pending and Recover re-dispatches it.
				r.emitInterrupted(def, run.ID, "")
				return
			}
			r.finish(ctx, def, run.ID, store.StatusFailed, map[string]interface{}{
				"error": ErrAdmissionTimeout.Error(),
			})
			return
		}
		defer func() { <-sem }()
	}

	r.execute(ctx, def, run)
}

// admit blocks until a concurrency slot frees, the admission timeout
// elapses, or the runner shuts down.
func (r *Runner) admit(ctx context.Context, def *Definition, sem chan struct{}) bool {
	if def.AdmissionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.AdmissionTimeout)
		defer cancel()
	}

	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

// execute advances a run's steps sequentially, retrying failed steps per
// the definition's policy before marking the run terminal.
func (r *Runner) execute(ctx context.Context, def *Definition, run *store.Run) {
	if err := r.store.SetRunStatus(ctx, run.ID, store.StatusRunning); err != nil {
		// A terminal run is never re-entered, even on event redelivery.
		if errors.Is(err, store.ErrRunTerminal) {
			return
		}
		r.emit(emit.Event{
			RunID:    run.ID,
			Workflow: def.ID,
			Msg:      "run_error",
			Meta:     map[string]interface{}{"error": err.Error()},
		})
		return
	}

	r.metrics.RunStarted(def.ID)
	defer r.metrics.RunEnded(def.ID)

	var event Event
	if err := json.Unmarshal(run.Event, &event); err != nil {
		r.finish(ctx, def, run.ID, store.StatusFailed, map[string]interface{}{
			"error": fmt.Sprintf("failed to decode stored event: %v", err),
		})
		return
	}

	sc := newStepContext(run.ID, event)
	policy := def.retryPolicy()

	for _, step := range def.Steps {
		value, err := r.runStep(ctx, def, run.ID, step, sc, policy)
		if err != nil {
			if r.interrupted() {
				// Shutdown cancelled the run mid-flight. The run stays
				// in Running and Recover resumes it from the completed
				// steps on next start.
				r.emitInterrupted(def, run.ID, step.Name)
				return
			}
			r.finish(ctx, def, run.ID, store.StatusFailed, map[string]interface{}{
				"error": err.Error(),
				"step":  step.Name,
			})
			return
		}
		sc.setResult(step.Name, value)
	}

	r.finish(ctx, def, run.ID, store.StatusCompleted, nil)
}

// runStep executes one step to success or retry exhaustion.
func (r *Runner) runStep(ctx context.Context, def *Definition, runID string, step StepSpec, sc *StepContext, policy RetryPolicy) (json.RawMessage, error) {
	for {
		value, err := r.executor.ExecuteStep(ctx, def.ID, runID, step, sc)
		if err == nil {
			return value, nil
		}

		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			// Store or encoding failure, not a step failure; there is
			// no durable attempt to retry against.
			return nil, err
		}

		if !policy.retryable(stepErr.Cause, stepErr.Attempt) {
			return nil, err
		}

		delay := policy.backoff(stepErr.Attempt - 1)
		r.metrics.RetryScheduled(def.ID, step.Name)
		r.emit(emit.Event{
			RunID:    runID,
			Workflow: def.ID,
			Step:     step.Name,
			Msg:      "step_retry",
			Meta: map[string]interface{}{
				"attempt":    stepErr.Attempt,
				"backoff_ms": delay.Milliseconds(),
			},
		})

		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// finish records a run's terminal status.
func (r *Runner) finish(ctx context.Context, def *Definition, runID string, status store.Status, meta map[string]interface{}) {
	if err := r.store.SetRunStatus(ctx, runID, status); err != nil && !errors.Is(err, store.ErrRunTerminal) {
		r.emit(emit.Event{
			RunID:    runID,
			Workflow: def.ID,
			Msg:      "run_error",
			Meta:     map[string]interface{}{"error": err.Error()},
		})
	}

	msg := "run_completed"
	if status == store.StatusFailed {
		msg = "run_failed"
	}

	r.metrics.RunFinished(def.ID, string(status))
	r.emit(emit.Event{
		RunID:    runID,
		Workflow: def.ID,
		Msg:      msg,
		Meta:     meta,
	})
}

// interrupted reports whether the runner itself has been cancelled.
func (r *Runner) interrupted() bool {
	return r.baseCtx.Err() != nil
}

func (r *Runner) emitInterrupted(def *Definition, runID, step string) {
	r.emit(emit.Event{
		RunID:    runID,
		Workflow: def.ID,
		Step:     step,
		Msg:      "run_interrupted",
	})
}

func (r *Runner) emit(event emit.Event) {
	if r.emitter != nil {
		r.emitter.Emit(event)
	}
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
