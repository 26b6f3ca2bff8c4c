package emit

// NullEmitter implements Emitter by discarding all events.
//
// Useful for benchmarks and for tests that don't assert on observability
// output.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(_ Event) {}
