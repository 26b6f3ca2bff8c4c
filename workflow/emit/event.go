package emit

// Event is an observability event emitted during workflow execution.
//
// Events cover the run lifecycle (created, resumed, completed, failed),
// individual step execution (started, completed, failed, retried), and
// engine-level conditions (unregistered event dropped, admission timeout).
//
// Events are delivered to an Emitter which can log them, convert them to
// OpenTelemetry spans, or fan them out to multiple backends.
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	// Empty for engine-level events that precede run creation.
	RunID string

	// Workflow is the workflow definition ID.
	Workflow string

	// Step is the step name, or empty for run-level events.
	Step string

	// Msg is a short machine-friendly event name, e.g. "step_completed".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "error": failure detail
	//   - "attempt": step attempt number
	//   - "duration_ms": step execution duration
	//   - "backoff_ms": delay before the next retry
	//   - "event": triggering event name
	Meta map[string]interface{}
}
