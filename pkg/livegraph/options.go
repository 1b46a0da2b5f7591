package livegraph

import (
	"log/slog"
	"os"
	"strings"

	"github.com/randalmurphal/livegraph/pkg/livegraph/config"
	"github.com/randalmurphal/livegraph/pkg/livegraph/observability"
)

// coordinatorConfig holds coordinator settings.
type coordinatorConfig struct {
	logger         *slog.Logger
	metricsEnabled bool
	tracingEnabled bool
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	maxSteps       uint64
}

func defaultCoordinatorConfig() coordinatorConfig {
	return coordinatorConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// Option configures a Coordinator.
type Option func(*coordinatorConfig)

// WithLogger sets the coordinator logger. Cycle and node records are
// enriched with graph_id, cycle_id and node_path.
func WithLogger(logger *slog.Logger) Option {
	return func(c *coordinatorConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics enables OpenTelemetry metrics through the global MeterProvider.
func WithMetrics(enabled bool) Option {
	return func(c *coordinatorConfig) {
		c.metricsEnabled = enabled
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry spans: one per cycle and one per node call.
func WithTracing(enabled bool) Option {
	return func(c *coordinatorConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithMaxSteps bounds the interpreter steps of one cycle. Zero means no limit.
//
// A cycle that exceeds the bound fails like any node error; the bound guards
// against runaway loops inside bodies, which cancellation cannot interrupt.
func WithMaxSteps(n uint64) Option {
	return func(c *coordinatorConfig) {
		c.maxSteps = n
	}
}

// OptionsFromConfig maps config keys onto options:
//
//	log_level: debug | info | warn | error (JSON logs on stderr)
//	metrics:   bool
//	tracing:   bool
//	max_steps: int
//
// Missing keys leave the defaults alone.
func OptionsFromConfig(p config.Params) []Option {
	var opts []Option
	if p.Has("log_level") {
		level := parseLevel(p.String("log_level", "info"))
		opts = append(opts, WithLogger(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))))
	}
	if p.Has("metrics") {
		opts = append(opts, WithMetrics(p.Bool("metrics", false)))
	}
	if p.Has("tracing") {
		opts = append(opts, WithTracing(p.Bool("tracing", false)))
	}
	if n := p.Int("max_steps", 0); n > 0 {
		opts = append(opts, WithMaxSteps(uint64(n)))
	}
	return opts
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
