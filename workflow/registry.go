package workflow

import (
	"fmt"
	"sync"
)

// Registry maps trigger event names to workflow definitions.
//
// Definitions are registered at process start; the registry is immutable in
// practice thereafter, but is guarded for safe concurrent resolution during
// dispatch.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Definition
	byEvent map[string]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:    make(map[string]*Definition),
		byEvent: make(map[string]*Definition),
	}
}

// Register validates and adds a definition. Fails with
// ErrDuplicateWorkflowID when two definitions share an ID and with
// ErrDuplicateTrigger when two definitions claim the same trigger event.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("definition cannot be nil")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateWorkflowID, def.ID)
	}
	if other, exists := r.byEvent[def.TriggerEvent]; exists {
		return fmt.Errorf("%w: %s already handled by %s", ErrDuplicateTrigger, def.TriggerEvent, other.ID)
	}

	r.byID[def.ID] = def
	r.byEvent[def.TriggerEvent] = def
	return nil
}

// Resolve returns the definition triggered by the given event name.
// An unmatched name is not an error; the bus logs and drops such events,
// since new event types may be introduced before their handlers.
func (r *Registry) Resolve(eventName string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byEvent[eventName]
	return def, ok
}

// Lookup returns the definition with the given workflow ID. Used by crash
// recovery to re-bind persisted runs to their definitions.
func (r *Registry) Lookup(workflowID string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byID[workflowID]
	return def, ok
}

// Definitions returns all registered definitions.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.byID))
	for _, def := range r.byID {
		defs = append(defs, def)
	}
	return defs
}
