package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter records events as OpenTelemetry spans.
//
// Each event becomes one span named after Event.Msg. Standard attributes:
//   - flowstate.run_id, flowstate.step, flowstate.node_id
//   - flowstate.attempt, flowstate.error.kind (when present in Meta)
//   - flowstate.llm.model, flowstate.llm.tokens (model nodes)
//   - flowstate.node.latency_ms
//
// Remaining Meta keys are attached verbatim. Events carrying Meta["error"]
// get an error status and a recorded exception.
//
// Example:
//
//	tracer := otel.Tracer("flowstate")
//	emitter := emit.NewOTelEmitter(tracer)
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter that starts spans on tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records event as a span.
func (o *OTelEmitter) Emit(event Event) {
	o.record(context.Background(), event)
}

// EmitBatch records events as sibling spans under ctx.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		o.record(ctx, event)
	}
	return nil
}

// Flush forces the global tracer provider to export pending spans, if it
// supports flushing.
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) record(ctx context.Context, event Event) {
	var opts []trace.SpanStartOption
	if !event.Time.IsZero() {
		opts = append(opts, trace.WithTimestamp(event.Time))
	}
	_, span := o.tracer.Start(ctx, event.Msg, opts...)
	defer span.End()

	span.SetAttributes(
		attribute.String("flowstate.run_id", event.RunID),
		attribute.Int("flowstate.step", event.Step),
		attribute.String("flowstate.node_id", event.NodeID),
	)
	if event.ID != "" {
		span.SetAttributes(attribute.String("flowstate.event_id", event.ID))
	}
	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute(key, value))
	}

	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

// metaAttribute maps well-known Meta keys into the flowstate namespace.
func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch key {
	case "attempt":
		key = "flowstate.attempt"
	case "error_kind":
		key = "flowstate.error.kind"
	case "model":
		key = "flowstate.llm.model"
	case "tokens":
		key = "flowstate.llm.tokens"
	case "latency_ms":
		key = "flowstate.node.latency_ms"
	case "backoff_ms":
		key = "flowstate.retry.backoff_ms"
	}

	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
