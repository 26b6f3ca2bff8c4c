package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/reviewpilot/reviewpilot/workflow/emit"
	"github.com/reviewpilot/reviewpilot/workflow/store"
)

// recordingEmitter captures emitted events for assertions. Safe for
// concurrent use.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emit.Event
}

func (r *recordingEmitter) Emit(event emit.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingEmitter) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Msg
	}
	return out
}

func TestBus_PublishDispatchesMatchedEvent(t *testing.T) {
	st := store.NewMemStore()
	emitter := &recordingEmitter{}

	def := &Definition{
		ID:           "echo",
		TriggerEvent: "test.echo",
		Retry:        fastRetry(1),
		Steps: []StepSpec{
			{Name: "only", Run: func(ctx context.Context, sc *StepContext) (interface{}, error) {
				return "ok", nil
			}},
		},
	}

	registry := NewRegistry()
	if err := registry.Register(def); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	runner := NewRunner(st, emitter, nil)
	bus := NewBus(registry, runner, emitter)

	runID, err := bus.Publish(context.Background(), Event{Name: "test.echo"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if runID == "" {
		t.Fatal("expected a run ID for a matched event")
	}

	waitForStatus(t, st, runID, store.StatusCompleted)

	if err := bus.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestBus_UnmatchedEventDropped(t *testing.T) {
	st := store.NewMemStore()
	emitter := &recordingEmitter{}

	runner := NewRunner(st, emitter, nil)
	bus := NewBus(NewRegistry(), runner, emitter)

	runID, err := bus.Publish(context.Background(), Event{Name: "nobody.listens"})
	if err != nil {
		t.Fatalf("Publish of unmatched event should not error: %v", err)
	}
	if runID != "" {
		t.Errorf("unmatched event produced run %s", runID)
	}

	dropped := false
	for _, msg := range emitter.messages() {
		if msg == "event_dropped" {
			dropped = true
		}
	}
	if !dropped {
		t.Error("expected an event_dropped emission")
	}

	runs, err := st.ListRunsByStatus(context.Background(),
		store.StatusPending, store.StatusRunning, store.StatusCompleted, store.StatusFailed)
	if err != nil {
		t.Fatalf("ListRunsByStatus failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("unmatched event created %d runs", len(runs))
	}
}

func TestBus_PublishRejectsInvalidEvent(t *testing.T) {
	bus := NewBus(NewRegistry(), NewRunner(store.NewMemStore(), nil, nil), nil)

	if _, err := bus.Publish(context.Background(), Event{}); err == nil {
		t.Error("expected validation error for an unnamed event")
	}
}
