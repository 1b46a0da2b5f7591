package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("livegraph")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartCycleSpan starts the span covering one evaluation cycle.
	StartCycleSpan(ctx context.Context, graphID, cycleID, kind string) (context.Context, trace.Span)

	// StartNodeSpan starts a child span for one node call.
	StartNodeSpan(ctx context.Context, nodePath string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global tracer provider.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartCycleSpan(ctx context.Context, graphID, cycleID, kind string) (context.Context, trace.Span) {
	return StartCycleSpan(ctx, graphID, cycleID, kind)
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodePath string) (context.Context, trace.Span) {
	return StartNodeSpan(ctx, nodePath)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// StartCycleSpan starts a "livegraph.cycle" span using the global tracer.
func StartCycleSpan(ctx context.Context, graphID, cycleID, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "livegraph.cycle",
		trace.WithAttributes(
			attribute.String("graph.id", graphID),
			attribute.String("cycle.id", cycleID),
			attribute.String("cycle.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartNodeSpan starts a "livegraph.node.<path>" span using the global tracer.
func StartNodeSpan(ctx context.Context, nodePath string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "livegraph.node."+nodePath,
		trace.WithAttributes(
			attribute.String("node.path", nodePath),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, recording err when non-nil.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the recording span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
