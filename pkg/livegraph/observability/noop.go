package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

// RecordNodeCall does nothing.
func (NoopMetrics) RecordNodeCall(context.Context, string, time.Duration, error) {}

// RecordCycle does nothing.
func (NoopMetrics) RecordCycle(context.Context, string, bool, time.Duration) {}

// RecordCompile does nothing.
func (NoopMetrics) RecordCompile(context.Context, int, time.Duration, error) {}

// RecordSlots does nothing.
func (NoopMetrics) RecordSlots(context.Context, string, int64) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartCycleSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartCycleSpan(ctx context.Context, _, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartNodeSpan returns ctx unchanged and a no-op span.
func (NoopSpanManager) StartNodeSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}
