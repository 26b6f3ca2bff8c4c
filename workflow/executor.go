package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/reviewpilot/reviewpilot/workflow/emit"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

// Executor runs a single named step and persists its result keyed by
// (runID, step name). Re-entry with the same key returns the cached result
// without invoking the function: this is the at-most-once-effect guarantee
// for externally visible actions performed inside a step (API calls,
// comment posts, DB writes).
//
// The executor never retries; retries are a Runner concern across the whole
// run.
type Executor struct {
	store   store.RunStore
	emitter emit.Emitter
	metrics *Metrics
}

// NewExecutor creates an Executor. The emitter and metrics may be nil.
func NewExecutor(st store.RunStore, emitter emit.Emitter, metrics *Metrics) *Executor {
	return &Executor{
		store:   st,
		emitter: emitter,
		metrics: metrics,
	}
}

// ExecuteStep executes one step for the given run:
//
//  1. A persisted success for (runID, step.Name) is returned immediately
//     without invoking the step function.
//  2. Otherwise the function is invoked under the step's timeout. A step
//     exceeding its timeout fails like any other error.
//  3. Success is persisted with a conditional insert-if-absent write; two
//     racing executions of the same step converge, the loser adopting the
//     winner's persisted value without having its own published.
//  4. Failure is recorded (incrementing the durable attempt count) and
//     propagated as a StepError.
func (x *Executor) ExecuteStep(ctx context.Context, workflowID, runID string, step StepSpec, sc *StepContext) (json.RawMessage, error) {
	existing, err := x.store.GetStepResult(ctx, runID, step.Name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up step result: %w", err)
	}
	if existing != nil && existing.Completed() {
		x.emit(emit.Event{
			RunID:    runID,
			Workflow: workflowID,
			Step:     step.Name,
			Msg:      "step_cached",
		})
		return existing.Value, nil
	}

	start := time.Now()
	value, runErr := x.invoke(ctx, step, sc)
	elapsed := time.Since(start)

	if runErr != nil {
		if ctx.Err() != nil {
			// The run itself was cancelled, not the step failing on
			// its own. No durable attempt is recorded; the step is
			// re-invoked cleanly when the run resumes.
			return nil, ctx.Err()
		}

		attempts, recErr := x.store.RecordStepFailure(ctx, runID, step.Name, runErr.Error())
		if recErr != nil {
			return nil, fmt.Errorf("failed to record step failure: %w", recErr)
		}

		x.metrics.ObserveStep(workflowID, step.Name, "error", elapsed)
		x.emit(emit.Event{
			RunID:    runID,
			Workflow: workflowID,
			Step:     step.Name,
			Msg:      "step_failed",
			Meta: map[string]interface{}{
				"error":       runErr.Error(),
				"attempt":     attempts,
				"duration_ms": elapsed.Milliseconds(),
			},
		})

		return nil, &StepError{
			RunID:    runID,
			Workflow: workflowID,
			Step:     step.Name,
			Attempt:  attempts,
			Cause:    runErr,
		}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of step %s: %w", step.Name, err)
	}

	result, inserted, err := x.store.InsertStepResult(ctx, runID, step.Name, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to persist result of step %s: %w", step.Name, err)
	}

	msg := "step_completed"
	if !inserted {
		// A concurrent execution won the conditional write; its value
		// is the step's result, ours is discarded.
		msg = "step_converged"
	}

	x.metrics.ObserveStep(workflowID, step.Name, "success", elapsed)
	x.emit(emit.Event{
		RunID:    runID,
		Workflow: workflowID,
		Step:     step.Name,
		Msg:      msg,
		Meta: map[string]interface{}{
			"attempt":     result.Attempts,
			"duration_ms": elapsed.Milliseconds(),
		},
	})

	return result.Value, nil
}

// invoke runs the step function under its timeout. Following the
// cancellation model, a function that returns after its deadline is treated
// as failed even if it produced a value; re-invocation is safe because the
// result was never persisted.
func (x *Executor) invoke(ctx context.Context, step StepSpec, sc *StepContext) (interface{}, error) {
	if step.Timeout <= 0 {
		return step.Run(ctx, sc)
	}

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	value, err := step.Run(stepCtx, sc)
	if err != nil {
		return nil, err
	}
	if stepCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("step %s exceeded timeout of %v: %w", step.Name, step.Timeout, context.DeadlineExceeded)
	}
	return value, nil
}

func (x *Executor) emit(event emit.Event) {
	if x.emitter != nil {
		x.emitter.Emit(event)
	}
}
