// Package workflow provides a durable step-function workflow engine: events
// trigger registered workflow definitions whose steps execute sequentially,
// persist their results, and survive crash/restart without repeating
// externally visible side effects.
package workflow

import (
	"errors"
	"fmt"
)

// ErrDuplicateWorkflowID indicates two definitions were registered with the
// same ID.
var ErrDuplicateWorkflowID = errors.New("duplicate workflow id")

// ErrDuplicateTrigger indicates two definitions were registered for the same
// trigger event name.
var ErrDuplicateTrigger = errors.New("duplicate trigger event")

// ErrAdmissionTimeout indicates a run waited longer than the definition's
// AdmissionTimeout for a concurrency slot. The run is marked Failed rather
// than queued forever.
var ErrAdmissionTimeout = errors.New("run admission timed out waiting for a concurrency slot")

// ErrInvalidRetryPolicy indicates a retry policy with out-of-range fields.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")

// StepError wraps a step failure with its execution context. The Workflow
// Runner consults the attempt count and the wrapped cause to decide between
// retry and terminal failure.
type StepError struct {
	// RunID is the run in which the step failed.
	RunID string

	// Workflow is the workflow definition ID.
	Workflow string

	// Step is the failing step's name.
	Step string

	// Attempt is the cumulative attempt count for this step, durable
	// across process restarts.
	Attempt int

	// Cause is the error returned by the step function.
	Cause error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (attempt %d): %v", e.Step, e.Attempt, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// PermanentError marks a failure that must not be retried: missing
// credentials, malformed input, a resource that no longer exists. The
// runner fails the run without consuming the remaining retry budget.
type PermanentError struct {
	Cause error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return "permanent: " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// Permanent wraps err so the runner treats it as non-retryable.
// Step authors use this to short-circuit the retry policy:
//
//	token, err := tokens.AccessToken(ctx, userID)
//	if err != nil {
//	    return nil, workflow.Permanent(err)
//	}
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// IsPermanent reports whether err or any error it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
