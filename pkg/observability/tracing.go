package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// otelSpanWrapper wraps an OpenTelemetry span to implement the Span interface
type otelSpanWrapper struct {
	span trace.Span
}

// End implements Span.End
func (o *otelSpanWrapper) End() {
	o.span.End()
}

// SetAttribute implements Span.SetAttribute
func (o *otelSpanWrapper) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		o.span.SetAttributes(attribute.String(key, v))
	case int:
		o.span.SetAttributes(attribute.Int(key, v))
	case int64:
		o.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		o.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		o.span.SetAttributes(attribute.Bool(key, v))
	case []attribute.KeyValue:
		o.span.SetAttributes(v...)
	default:
		o.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

// AddEvent implements Span.AddEvent
func (o *otelSpanWrapper) AddEvent(name string, attributes map[string]interface{}) {
	attrs := make([]attribute.KeyValue, 0, len(attributes))
	for k, v := range attributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	o.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// RecordError implements Span.RecordError
func (o *otelSpanWrapper) RecordError(err error) {
	o.span.RecordError(err)
}

// SpanContext implements Span.SpanContext
func (o *otelSpanWrapper) SpanContext() trace.SpanContext {
	return o.span.SpanContext()
}

// Attribute keys shared across embedcache spans
const (
	// CacheTierAttributeKey is the attribute key for cache tier names
	CacheTierAttributeKey = attribute.Key("cache.tier")

	// ModelAttributeKey is the attribute key for embedding model identifiers
	ModelAttributeKey = attribute.Key("embedding.model")

	// ProviderAttributeKey is the attribute key for embedding provider names
	ProviderAttributeKey = attribute.Key("embedding.provider")
)

// Package level variables for tracing
var (
	globalTracer     trace.Tracer
	globalTracerInit bool
)

// SetTracer sets the global tracer. Binaries that want spans exported call
// this after installing their own otel trace provider; without it every
// span is a noop.
func SetTracer(t trace.Tracer) {
	globalTracer = t
	globalTracerInit = true
}

// InitTracer installs the globally registered otel tracer provider under
// the given service name and wires it into StartSpan.
func InitTracer(serviceName string) {
	SetTracer(otel.Tracer(serviceName))
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if !globalTracerInit {
		return trace.NewNoopTracerProvider().Tracer("")
	}
	return globalTracer
}

// StartSpan starts a new span and returns the wrapped span and context
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, otelSpan := GetTracer().Start(ctx, name)
	return ctx, &otelSpanWrapper{span: otelSpan}
}

// AddSpanEvent adds an event to the current span
func AddSpanEvent(ctx context.Context, name string, attributes ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attributes...))
}

// SetSpanStatus records an error on the current span when err is non-nil
func SetSpanStatus(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
}

// TraceTier wraps span operations for a specific cache tier
func TraceTier(ctx context.Context, tier string, operation string) (context.Context, Span) {
	ctx, span := StartSpan(ctx, "cache."+tier+"."+operation)
	otelSpan, ok := span.(*otelSpanWrapper)
	if ok {
		otelSpan.span.SetAttributes(
			CacheTierAttributeKey.String(tier),
		)
	}
	return ctx, span
}
