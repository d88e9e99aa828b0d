package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTel creates an OpenTelemetry span per event.
//
// Each event becomes an instant span named after event.Msg carrying the run
// id, step, node id, and all Meta fields as attributes. Failure events set
// the span status to Error.
//
// Usage:
//
//	tracer := otel.Tracer("insightflow")
//	emitter := emit.NewOTel(tracer)
type OTel struct {
	tracer trace.Tracer
}

// NewOTel creates an OTel emitter from a tracer.
func NewOTel(tracer trace.Tracer) *OTel {
	return &OTel{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTel) Emit(event Event) {
	if o.tracer == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("workflow.run_id", event.RunID),
		attribute.Int("workflow.step", event.Step),
	}
	if event.NodeID != "" {
		attrs = append(attrs, attribute.String("workflow.node_id", event.NodeID))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, metaAttribute("workflow.meta."+k, v))
	}

	_, span := o.tracer.Start(context.Background(), event.Msg,
		trace.WithAttributes(attrs...))
	if event.Msg == MsgRunFailed {
		if errText, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, errText)
		} else {
			span.SetStatus(codes.Error, "run failed")
		}
	}
	span.End()
}

// metaAttribute converts an arbitrary meta value to a span attribute.
func metaAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	default:
		return attribute.String(key, fmt.Sprintf("%v", val))
	}
}
