package emit

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter implements Emitter by creating OpenTelemetry spans.
//
// Each event becomes a span with:
//   - Span name: event.Msg (e.g. "step_started", "step_completed")
//   - Attributes: run ID, workflow ID, step name, and all event.Meta fields
//   - Status: error if event.Meta["error"] is present
//
// Spans are ended immediately; workflow events represent points in time,
// not durations. Step duration is carried as the "duration_ms" attribute.
//
// Usage:
//
//	tracer := otel.Tracer("reviewpilot")
//	emitter := emit.NewOTelEmitter(tracer)
//
// The application is responsible for configuring the tracer provider
// (exporter, batch span processor) before creating the emitter.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using the given tracer,
// typically obtained from otel.Tracer("service-name").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit creates and immediately ends a span for the event.
func (o *OTelEmitter) Emit(event Event) {
	ctx := context.Background()
	_, span := o.tracer.Start(ctx, event.Msg)
	defer span.End()

	o.addStandardAttributes(span, event)
	o.addMetadataAttributes(span, event.Meta)

	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}

// Flush forces export of all pending spans.
//
// OpenTelemetry buffers spans in a batch span processor; call Flush before
// shutdown so buffered spans reach the backend. Returns nil when the
// installed provider does not support flushing (e.g. the noop provider).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	tp := otel.GetTracerProvider()

	type flusher interface {
		ForceFlush(context.Context) error
	}

	if f, ok := tp.(flusher); ok {
		return f.ForceFlush(ctx)
	}

	return nil
}

func (o *OTelEmitter) addStandardAttributes(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("reviewpilot.run_id", event.RunID),
		attribute.String("reviewpilot.workflow", event.Workflow),
		attribute.String("reviewpilot.step", event.Step),
	)
}

// addMetadataAttributes converts event metadata to span attributes.
//
// Handles common types directly (string, int, int64, float64, bool) and
// converts time.Duration to milliseconds; anything else falls back to its
// string representation.
func (o *OTelEmitter) addMetadataAttributes(span trace.Span, meta map[string]interface{}) {
	if meta == nil {
		return
	}

	for key, value := range meta {
		attrKey := "reviewpilot." + key

		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, int64(v/time.Millisecond)))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
}
