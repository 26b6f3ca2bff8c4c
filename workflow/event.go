package workflow

import (
	"encoding/json"
	"fmt"
)

// Event is a named trigger with a JSON-shaped payload. Events are immutable
// once published; the bus holds them only transiently during dispatch.
//
// Delivery is at-least-once: the same logical event may reach the engine
// more than once (webhook redelivery, crash-and-restart of the ingress).
// Redeliveries converge on a single run via the run key derived from the
// event content, so handlers never observe duplicated side effects.
type Event struct {
	// Name selects the workflow definition via its trigger, e.g.
	// "pr.review.requested".
	Name string `json:"name"`

	// Data is the payload. Values must be JSON-serializable.
	Data map[string]interface{} `json:"data"`

	// IdempotencyKey, when set, overrides the definition's derived run
	// key for deduplicating redeliveries.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Validate checks the event is publishable.
func (e Event) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("event name cannot be empty")
	}
	return nil
}

// DecodeData unmarshals the payload into a typed struct. Workflows use this
// to convert the dynamic JSON shape into a closed, validated payload type
// at the workflow boundary rather than trusting structural typing at
// runtime:
//
//	var p ReviewRequested
//	if err := event.DecodeData(&p); err != nil { ... }
//	if err := p.Validate(); err != nil { ... }
func (e Event) DecodeData(out interface{}) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode event data: %w", err)
	}
	return nil
}

// Str returns the string payload field named key, with ok reporting
// presence and type match. Not named String to keep the fmt.Stringer
// method name free of an unrelated signature.
func (e Event) Str(key string) (string, bool) {
	v, ok := e.Data[key].(string)
	return v, ok
}

// Int returns the integer payload field named key. JSON numbers decode as
// float64; values with a fractional part report ok == false.
func (e Event) Int(key string) (int, bool) {
	switch v := e.Data[key].(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, false
		}
		return int(v), true
	case int:
		return v, true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
