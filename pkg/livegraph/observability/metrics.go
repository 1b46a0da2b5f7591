package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records livegraph metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeCall records one node body call.
	RecordNodeCall(ctx context.Context, nodePath string, duration time.Duration, err error)

	// RecordCycle records a finished evaluation cycle.
	// kind is "push", "pull" or "eval".
	RecordCycle(ctx context.Context, kind string, success bool, duration time.Duration)

	// RecordCompile records a lowering attempt.
	RecordCompile(ctx context.Context, vertices int, duration time.Duration, err error)

	// RecordSlots records State Slots created (positive) or dropped (negative).
	RecordSlots(ctx context.Context, graphID string, delta int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeCalls      metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	cycleRuns      metric.Int64Counter
	cycleLatency   metric.Float64Histogram
	compileLatency metric.Float64Histogram
	compileSize    metric.Int64Histogram
	slots          metric.Int64UpDownCounter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics lazily builds the shared instruments.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("livegraph")
	m := &otelMetrics{}
	var err error

	if m.nodeCalls, err = meter.Int64Counter("livegraph.node.calls",
		metric.WithDescription("Number of node body calls"),
	); err != nil {
		return nil, err
	}

	if m.nodeLatency, err = meter.Float64Histogram("livegraph.node.latency_ms",
		metric.WithDescription("Node body call latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.nodeErrors, err = meter.Int64Counter("livegraph.node.errors",
		metric.WithDescription("Number of failed node body calls"),
	); err != nil {
		return nil, err
	}

	if m.cycleRuns, err = meter.Int64Counter("livegraph.cycle.runs",
		metric.WithDescription("Number of evaluation cycles"),
	); err != nil {
		return nil, err
	}

	if m.cycleLatency, err = meter.Float64Histogram("livegraph.cycle.latency_ms",
		metric.WithDescription("Evaluation cycle latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.compileLatency, err = meter.Float64Histogram("livegraph.compile.latency_ms",
		metric.WithDescription("Graph lowering latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.compileSize, err = meter.Int64Histogram("livegraph.compile.vertices",
		metric.WithDescription("Vertices in a compiled unit"),
	); err != nil {
		return nil, err
	}

	if m.slots, err = meter.Int64UpDownCounter("livegraph.state.slots",
		metric.WithDescription("Live State Slots"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If instrument creation fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider; set it first:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeCall implements MetricsRecorder.
func (m *otelMetrics) RecordNodeCall(ctx context.Context, nodePath string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_path", nodePath))

	m.nodeCalls.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, millis(duration), attrs)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

// RecordCycle implements MetricsRecorder.
func (m *otelMetrics) RecordCycle(ctx context.Context, kind string, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	)
	m.cycleRuns.Add(ctx, 1, attrs)
	m.cycleLatency.Record(ctx, millis(duration), attrs)
}

// RecordCompile implements MetricsRecorder.
func (m *otelMetrics) RecordCompile(ctx context.Context, vertices int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.compileLatency.Record(ctx, millis(duration), attrs)
	if err == nil {
		m.compileSize.Record(ctx, int64(vertices))
	}
}

// RecordSlots implements MetricsRecorder.
func (m *otelMetrics) RecordSlots(ctx context.Context, graphID string, delta int64) {
	m.slots.Add(ctx, delta, metric.WithAttributes(attribute.String("graph_id", graphID)))
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
