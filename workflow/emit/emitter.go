// Package emit provides pluggable observability for workflow execution.
package emit

// Emitter receives observability events from the workflow engine.
//
// Implementations should be:
//   - Non-blocking: never slow down workflow execution
//   - Thread-safe: runs execute concurrently and emit from multiple goroutines
//   - Resilient: a failing backend must not crash a workflow
//
// The engine accepts a nil Emitter; callers that want a no-op value instead
// of nil can use NullEmitter.
type Emitter interface {
	// Emit sends one event to the configured backend.
	//
	// Emit must not panic and must not block on slow backends; buffer,
	// drop, or hand off asynchronously instead.
	Emit(event Event)
}
