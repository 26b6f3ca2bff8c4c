package workflow

import (
	"context"

	"github.com/reviewpilot/reviewpilot/workflow/emit"
)

// Bus is the publish entry point of the engine: it resolves event names to
// workflow definitions and hands matched events to the Runner.
//
// Publish is fire-and-forget from the caller's perspective: it returns once
// the run row is durably created, never when the workflow completes.
// Delivery to workflows is at-least-once; the run-key deduplication in the
// Runner makes redelivery safe.
type Bus struct {
	registry *Registry
	runner   *Runner
	emitter  emit.Emitter
}

// NewBus creates a Bus over a registry and runner. The emitter may be nil.
func NewBus(registry *Registry, runner *Runner, emitter emit.Emitter) *Bus {
	return &Bus{
		registry: registry,
		runner:   runner,
		emitter:  emitter,
	}
}

// Publish enqueues an event for asynchronous delivery and returns the run
// ID handling it.
//
// An event whose name matches no registered workflow is logged and dropped:
// the returned run ID is empty and the error is nil, since new event types
// may be introduced before their handlers and publishers must not break.
func (b *Bus) Publish(ctx context.Context, event Event) (string, error) {
	if err := event.Validate(); err != nil {
		return "", err
	}

	def, ok := b.registry.Resolve(event.Name)
	if !ok {
		if b.emitter != nil {
			b.emitter.Emit(emit.Event{
				Msg:  "event_dropped",
				Meta: map[string]interface{}{"event": event.Name},
			})
		}
		return "", nil
	}

	return b.runner.Dispatch(ctx, def, event)
}

// Close drains the engine: it stops accepting work implicitly (callers
// should stop publishing first) and waits for in-flight runs, subject to
// ctx.
func (b *Bus) Close(ctx context.Context) error {
	return b.runner.Shutdown(ctx)
}
