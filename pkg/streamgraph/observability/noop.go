package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordTrigger does nothing.
func (NoopMetrics) RecordTrigger(_ context.Context, _ bool) {}

// RecordCompleted does nothing.
func (NoopMetrics) RecordCompleted(_ context.Context, _ time.Duration, _ int64) {}

// RecordFailed does nothing.
func (NoopMetrics) RecordFailed(_ context.Context, _ string) {}

// RecordInFlight does nothing.
func (NoopMetrics) RecordInFlight(_ context.Context, _ int64) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
// We use the OTel noop package for a proper no-op span implementation.
var noopSpan = noop.Span{}

// StartCheckpointSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartCheckpointSpan(ctx context.Context, _ string, _ int64) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
