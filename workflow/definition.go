package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/reviewpilot/reviewpilot/workflow/store"
)

// StepFunc is the unit of work within a workflow. It may perform I/O against
// external collaborators (GitHub, a retrieval index, a language model); the
// engine guarantees a succeeded step's function is never invoked again for
// the same run, so the function itself does not need to deduplicate its own
// side effects.
//
// The returned value is JSON-encoded and persisted; later steps read it via
// StepContext.Result. Return workflow.Permanent(err) for failures that must
// not be retried.
type StepFunc func(ctx context.Context, sc *StepContext) (interface{}, error)

// StepSpec describes one named step of a workflow definition.
type StepSpec struct {
	// Name identifies the step; it is the caching key for the step's
	// persisted result and must be unique within the definition.
	Name string

	// Timeout bounds one invocation of Run. Zero means no timeout.
	// A step exceeding its timeout fails and follows the retry policy.
	Timeout time.Duration

	// Run executes the step.
	Run StepFunc
}

// Definition is a registered workflow: an ordered sequence of steps driven
// by a triggering event. Definitions are registered at process start and
// immutable thereafter.
type Definition struct {
	// ID uniquely identifies the workflow, e.g. "generate-review".
	ID string

	// TriggerEvent is the event name that starts this workflow.
	TriggerEvent string

	// Concurrency bounds the number of simultaneously running instances
	// of this workflow. Zero means unbounded.
	Concurrency int

	// AdmissionTimeout bounds how long a run waits for a concurrency
	// slot before it is marked Failed. Zero means wait indefinitely.
	AdmissionTimeout time.Duration

	// Retry is the per-step retry policy. Zero value uses
	// DefaultRetryPolicy().
	Retry RetryPolicy

	// RunKeyFunc derives the deduplication key from the triggering
	// event, e.g. "owner/repo/prNumber". Redelivered events with the
	// same key attach to the existing run. Nil falls back to the event's
	// IdempotencyKey, or a fresh UUID when that is empty (no dedup).
	RunKeyFunc func(Event) string

	// Steps execute strictly in declared order; step N's persisted
	// result is visible to step N+1.
	Steps []StepSpec
}

// Validate checks the definition is registrable.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("workflow ID cannot be empty")
	}
	if d.TriggerEvent == "" {
		return fmt.Errorf("workflow %s: trigger event cannot be empty", d.ID)
	}
	if d.Concurrency < 0 {
		return fmt.Errorf("workflow %s: concurrency cannot be negative", d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", d.ID)
	}

	seen := make(map[string]bool, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return fmt.Errorf("workflow %s: step %d has no name", d.ID, i)
		}
		if step.Run == nil {
			return fmt.Errorf("workflow %s: step %s has no function", d.ID, step.Name)
		}
		if seen[step.Name] {
			return fmt.Errorf("workflow %s: duplicate step name %s", d.ID, step.Name)
		}
		seen[step.Name] = true
	}

	if err := d.retryPolicy().Validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", d.ID, err)
	}
	return nil
}

// retryPolicy returns the effective retry policy, substituting defaults for
// the zero value.
func (d *Definition) retryPolicy() RetryPolicy {
	if d.Retry.MaxAttempts == 0 {
		return DefaultRetryPolicy()
	}
	return d.Retry
}

// StepContext carries the triggering event and the persisted results of
// prior steps into a step function.
type StepContext struct {
	// RunID is the durable identifier of the current run.
	RunID string

	// Event is the event that triggered this run.
	Event Event

	results map[string]json.RawMessage
}

func newStepContext(runID string, event Event) *StepContext {
	return &StepContext{
		RunID:   runID,
		Event:   event,
		results: make(map[string]json.RawMessage),
	}
}

// Result decodes the persisted value of an earlier step into out.
// Returns store.ErrNotFound when the named step has not completed; within a
// correctly ordered definition this only happens for a misspelled name.
func (sc *StepContext) Result(step string, out interface{}) error {
	raw, ok := sc.results[step]
	if !ok {
		return fmt.Errorf("step %s: %w", step, store.ErrNotFound)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode result of step %s: %w", step, err)
	}
	return nil
}

func (sc *StepContext) setResult(step string, value json.RawMessage) {
	sc.results[step] = value
}
