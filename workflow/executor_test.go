package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/reviewpilot/reviewpilot/workflow/store"
)

func newTestRun(t *testing.T, st store.RunStore, workflowID string) *store.Run {
	t.Helper()

	run := &store.Run{
		ID:         "run-" + t.Name(),
		WorkflowID: workflowID,
		RunKey:     "key-" + t.Name(),
		Event:      json.RawMessage(`{"name":"test.event","data":{}}`),
		Status:     store.StatusPending,
	}
	stored, created, err := st.CreateRun(context.Background(), run)
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if !created {
		t.Fatal("expected run to be created")
	}
	return stored
}

func TestExecutor_CachedResultSkipsInvocation(t *testing.T) {
	st := store.NewMemStore()
	run := newTestRun(t, st, "wf")
	x := NewExecutor(st, nil, nil)

	invocations := 0
	step := StepSpec{
		Name: "post-comment",
		Run: func(ctx context.Context, sc *StepContext) (interface{}, error) {
			invocations++
			return "posted", nil
		},
	}
	sc := newStepContext(run.ID, Event{Name: "test.event"})

	first, err := x.ExecuteStep(context.Background(), "wf", run.ID, step, sc)
	if err != nil {
		t.Fatalf("first execution failed: %v", err)
	}

	second, err := x.ExecuteStep(context.Background(), "wf", run.ID, step, sc)
	if err != nil {
		t.Fatalf("second execution failed: %v", err)
	}

	if invocations != 1 {
		t.Errorf("expected 1 invocation, got %d", invocations)
	}
	if string(first) != string(second) {
		t.Errorf("cached value %s differs from original %s", second, first)
	}
}

func TestExecutor_FailureRecordsAttempt(t *testing.T) {
	st := store.NewMemStore()
	run := newTestRun(t, st, "wf")
	x := NewExecutor(st, nil, nil)

	cause := errors.New("github: 502 Bad Gateway")
	step := StepSpec{
		Name: "fetch-pr-data",
		Run: func(ctx context.Context, sc *StepContext) (interface{}, error) {
			return nil, cause
		},
	}
	sc := newStepContext(run.ID, Event{Name: "test.event"})

	for want := 1; want <= 2; want++ {
		_, err := x.ExecuteStep(context.Background(), "wf", run.ID, step, sc)
		if err == nil {
			t.Fatal("expected error")
		}

		var stepErr *StepError
		if !errors.As(err, &stepErr) {
			t.Fatalf("expected StepError, got %T: %v", err, err)
		}
		if stepErr.Attempt != want {
			t.Errorf("attempt %d: got Attempt = %d", want, stepErr.Attempt)
		}
		if !errors.Is(err, cause) {
			t.Error("StepError should unwrap to the step's cause")
		}
	}

	result, err := st.GetStepResult(context.Background(), run.ID, "fetch-pr-data")
	if err != nil {
		t.Fatalf("GetStepResult failed: %v", err)
	}
	if result.Attempts != 2 {
		t.Errorf("expected 2 durable attempts, got %d", result.Attempts)
	}
	if result.Completed() {
		t.Error("failed step should not be marked completed")
	}
}

func TestExecutor_SuccessAfterFailures(t *testing.T) {
	st := store.NewMemStore()
	run := newTestRun(t, st, "wf")
	x := NewExecutor(st, nil, nil)

	calls := 0
	step := StepSpec{
		Name: "flaky",
		Run: func(ctx context.Context, sc *StepContext) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("transient")
			}
			return map[string]int{"count": 7}, nil
		},
	}
	sc := newStepContext(run.ID, Event{Name: "test.event"})

	var value json.RawMessage
	var err error
	for i := 0; i < 3; i++ {
		value, err = x.ExecuteStep(context.Background(), "wf", run.ID, step, sc)
	}
	if err != nil {
		t.Fatalf("third execution failed: %v", err)
	}

	var decoded map[string]int
	if err := json.Unmarshal(value, &decoded); err != nil {
		t.Fatalf("failed to decode persisted value: %v", err)
	}
	if decoded["count"] != 7 {
		t.Errorf("expected count = 7, got %d", decoded["count"])
	}

	result, err := st.GetStepResult(context.Background(), run.ID, "flaky")
	if err != nil {
		t.Fatalf("GetStepResult failed: %v", err)
	}
	if result.Attempts != 3 {
		t.Errorf("expected 3 attempts (2 failures + success), got %d", result.Attempts)
	}
	if !result.Completed() {
		t.Error("expected completed result")
	}
}

func TestExecutor_StepTimeout(t *testing.T) {
	st := store.NewMemStore()
	run := newTestRun(t, st, "wf")
	x := NewExecutor(st, nil, nil)

	step := StepSpec{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context, sc *StepContext) (interface{}, error) {
			select {
			case <-time.After(time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	sc := newStepContext(run.ID, Event{Name: "test.event"})

	_, err := x.ExecuteStep(context.Background(), "wf", run.ID, step, sc)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded in chain, got %v", err)
	}

	// The timed-out invocation must not have persisted a value.
	result, err := st.GetStepResult(context.Background(), run.ID, "slow")
	if err != nil {
		t.Fatalf("GetStepResult failed: %v", err)
	}
	if result.Completed() {
		t.Error("timed-out step should not have a persisted success")
	}
}

// A value produced after the deadline is discarded even when the step
// function ignores cancellation.
func TestExecutor_LateValueDiscarded(t *testing.T) {
	st := store.NewMemStore()
	run := newTestRun(t, st, "wf")
	x := NewExecutor(st, nil, nil)

	step := StepSpec{
		Name:    "ignores-cancel",
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context, sc *StepContext) (interface{}, error) {
			time.Sleep(20 * time.Millisecond)
			return "late value", nil
		},
	}
	sc := newStepContext(run.ID, Event{Name: "test.event"})

	_, err := x.ExecuteStep(context.Background(), "wf", run.ID, step, sc)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "exceeded timeout") {
		t.Errorf("unexpected error: %v", err)
	}
}
