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

// MetricsRecorder records checkpoint protocol metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordTrigger records a trigger attempt and whether it was accepted.
	RecordTrigger(ctx context.Context, accepted bool)

	// RecordCompleted records a completed checkpoint with its end-to-end
	// duration and total state size.
	RecordCompleted(ctx context.Context, duration time.Duration, sizeBytes int64)

	// RecordFailed records a failed checkpoint attempt with its reason.
	RecordFailed(ctx context.Context, reason string)

	// RecordInFlight adjusts the number of concurrently pending checkpoints.
	RecordInFlight(ctx context.Context, delta int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	triggers  metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	latency   metric.Float64Histogram
	stateSize metric.Int64Histogram
	inFlight  metric.Int64UpDownCounter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("streamgraph")

	triggers, err := meter.Int64Counter("streamgraph.checkpoint.triggers",
		metric.WithDescription("Number of checkpoint trigger attempts"),
	)
	if err != nil {
		return nil, err
	}

	completed, err := meter.Int64Counter("streamgraph.checkpoint.completed",
		metric.WithDescription("Number of completed checkpoints"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter("streamgraph.checkpoint.failed",
		metric.WithDescription("Number of failed checkpoint attempts"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("streamgraph.checkpoint.latency_ms",
		metric.WithDescription("End-to-end checkpoint latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	stateSize, err := meter.Int64Histogram("streamgraph.checkpoint.size_bytes",
		metric.WithDescription("Total checkpoint state size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter("streamgraph.checkpoint.in_flight",
		metric.WithDescription("Number of concurrently pending checkpoints"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		triggers:  triggers,
		completed: completed,
		failed:    failed,
		latency:   latency,
		stateSize: stateSize,
		inFlight:  inFlight,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
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

// RecordTrigger records a trigger attempt.
func (m *otelMetrics) RecordTrigger(ctx context.Context, accepted bool) {
	m.triggers.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("accepted", accepted),
	))
}

// RecordCompleted records a completed checkpoint.
func (m *otelMetrics) RecordCompleted(ctx context.Context, duration time.Duration, sizeBytes int64) {
	m.completed.Add(ctx, 1)
	m.latency.Record(ctx, float64(duration.Milliseconds()))
	m.stateSize.Record(ctx, sizeBytes)
}

// RecordFailed records a failed checkpoint attempt.
func (m *otelMetrics) RecordFailed(ctx context.Context, reason string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordInFlight adjusts the pending checkpoint gauge.
func (m *otelMetrics) RecordInFlight(ctx context.Context, delta int64) {
	m.inFlight.Add(ctx, delta)
}
