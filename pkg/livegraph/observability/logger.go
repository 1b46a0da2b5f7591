// Package observability provides structured logging, metrics and tracing
// for livegraph compilation and evaluation cycles.
//
// Logging uses log/slog. Metrics and tracing use OpenTelemetry against the
// globally registered providers. Every feature has a no-op implementation
// so disabled observability costs nothing.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds cycle context to a logger.
// Returns a new logger with graph_id, cycle_id and node_path fields; empty
// values are left out.
func EnrichLogger(logger *slog.Logger, graphID, cycleID, nodePath string) *slog.Logger {
	if logger == nil {
		return nil
	}
	var attrs []any
	for _, kv := range [][2]string{{"graph_id", graphID}, {"cycle_id", cycleID}, {"node_path", nodePath}} {
		if kv[1] != "" {
			attrs = append(attrs, slog.String(kv[0], kv[1]))
		}
	}
	if len(attrs) == 0 {
		return logger
	}
	return logger.With(attrs...)
}

// LogCycleStart logs the start of an evaluation cycle. The logger is
// expected to carry the cycle id (see EnrichLogger).
func LogCycleStart(logger *slog.Logger, kind string) {
	if logger == nil {
		return
	}
	logger.Info("cycle starting",
		slog.String("kind", kind),
	)
}

// LogCycleComplete logs a cycle that ran to completion.
func LogCycleComplete(logger *slog.Logger, durationMs float64, nodeCount int) {
	if logger == nil {
		return
	}
	logger.Info("cycle completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount),
	)
}

// LogCycleError logs a cycle aborted by an error at nodePath.
func LogCycleError(logger *slog.Logger, err error, durationMs float64, nodePath string) {
	if logger == nil {
		return
	}
	logger.Error("cycle failed",
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
		slog.String("node_path", nodePath),
	)
}

// LogNodeStart logs a node call.
func LogNodeStart(logger *slog.Logger, nodePath string) {
	if logger == nil {
		return
	}
	logger.Debug("node starting",
		slog.String("node_path", nodePath),
	)
}

// LogNodeComplete logs a successful node call.
func LogNodeComplete(logger *slog.Logger, nodePath string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("node completed",
		slog.String("node_path", nodePath),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogNodeError logs a failing node call.
func LogNodeError(logger *slog.Logger, nodePath string, err error) {
	if logger == nil {
		return
	}
	logger.Error("node failed",
		slog.String("node_path", nodePath),
		slog.String("error", err.Error()),
	)
}

// LogCompile logs a finished lowering.
func LogCompile(logger *slog.Logger, graphID, digest string, vertices int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("graph compiled",
		slog.String("graph_id", graphID),
		slog.String("digest", digest),
		slog.Int("vertices", vertices),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogUnreachable warns about a node that no entrypoint or pull target reaches.
func LogUnreachable(logger *slog.Logger, graphID, nodePath string) {
	if logger == nil {
		return
	}
	logger.Warn("node is unreachable from entrypoints and pull targets",
		slog.String("graph_id", graphID),
		slog.String("node_path", nodePath),
	)
}

// LogReload logs a unit swap on a running coordinator.
func LogReload(logger *slog.Logger, graphID, fromDigest, toDigest string, droppedSlots int) {
	if logger == nil {
		return
	}
	logger.Info("unit reloaded",
		slog.String("graph_id", graphID),
		slog.String("from_digest", fromDigest),
		slog.String("to_digest", toDigest),
		slog.Int("dropped_slots", droppedSlots),
	)
}

// LogSlotDropped logs the release of a State Slot.
func LogSlotDropped(logger *slog.Logger, graphID, nodePath string) {
	if logger == nil {
		return
	}
	logger.Debug("state slot dropped",
		slog.String("graph_id", graphID),
		slog.String("node_path", nodePath),
	)
}

// TimedOperation measures the duration of an operation.
// The returned function reports elapsed milliseconds with microsecond precision.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
