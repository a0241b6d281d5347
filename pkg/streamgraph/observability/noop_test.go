package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestNoopMetrics_DoesNothing(t *testing.T) {
	m := NoopMetrics{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordTrigger(ctx, true)
		m.RecordTrigger(ctx, false)
		m.RecordCompleted(ctx, 100*time.Millisecond, 1024)
		m.RecordCompleted(ctx, 0, -1)
		m.RecordFailed(ctx, "expired")
		m.RecordFailed(ctx, "")
		m.RecordInFlight(ctx, 1)
		m.RecordInFlight(ctx, -1)
	})

	t.Run("does not panic with nil context", func(t *testing.T) {
		assert.NotPanics(t, func() {
			m.RecordTrigger(nil, true)
			m.RecordCompleted(nil, 0, 0)
			m.RecordFailed(nil, "x")
			m.RecordInFlight(nil, 0)
		})
	})
}

func TestNoopSpanManager_StartCheckpointSpan(t *testing.T) {
	sm := NoopSpanManager{}

	t.Run("returns same context", func(t *testing.T) {
		ctx := context.Background()
		newCtx, span := sm.StartCheckpointSpan(ctx, "job-1", 7)

		assert.Equal(t, ctx, newCtx, "Context should be unchanged")
		assert.NotNil(t, span, "Span should not be nil")
	})

	t.Run("span is valid noop span", func(t *testing.T) {
		_, span := sm.StartCheckpointSpan(context.Background(), "job-1", 7)
		assert.False(t, span.IsRecording())
	})

	t.Run("does not panic with empty args", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.StartCheckpointSpan(context.Background(), "", 0)
		})
	})
}

func TestNoopSpanManager_EndSpanWithError(t *testing.T) {
	sm := NoopSpanManager{}

	t.Run("does not panic with nil span", func(t *testing.T) {
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(nil, nil)
		})
	})

	t.Run("does not panic with error", func(t *testing.T) {
		_, span := sm.StartCheckpointSpan(context.Background(), "job-1", 1)
		assert.NotPanics(t, func() {
			sm.EndSpanWithError(span, errors.New("test error"))
		})
	})
}

func TestNoopSpanManager_AddSpanEvent(t *testing.T) {
	sm := NoopSpanManager{}

	assert.NotPanics(t, func() {
		sm.AddSpanEvent(context.Background(), "barriers_injected", attribute.Int64("checkpoint.id", 1))
		sm.AddSpanEvent(context.Background(), "")
		sm.AddSpanEvent(nil, "event")
	})
}
