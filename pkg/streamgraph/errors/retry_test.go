package errors_test

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgerrors "github.com/randalmurphal/streamgraph/pkg/streamgraph/errors"
)

func fastRetry(attempts int) sgerrors.RetryConfig {
	return sgerrors.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

// TestWithRetry_TransientRecovers verifies transient failures are
// retried until success.
func TestWithRetry_TransientRecovers(t *testing.T) {
	calls := 0
	result, err := sgerrors.WithRetry(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, &sgerrors.StorageError{Op: "add", Transient: true, Err: stderrors.New("busy")}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

// TestWithRetry_PermanentFailsFast verifies permanent errors are not
// retried.
func TestWithRetry_PermanentFailsFast(t *testing.T) {
	calls := 0
	boom := stderrors.New("schema broken")
	_, err := sgerrors.WithRetry(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, &sgerrors.StorageError{Op: "add", Transient: false, Err: boom}
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

// TestWithRetry_ExhaustsAttempts verifies the attempt bound.
func TestWithRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := sgerrors.WithRetry(context.Background(), fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, &sgerrors.StorageError{Op: "add", Transient: true, Err: stderrors.New("busy")}
	})
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

// TestWithRetry_ContextCancelled verifies cancellation stops retries.
func TestWithRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := sgerrors.WithRetry(ctx, fastRetry(3), func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

// TestWithRetry_CustomRetryable verifies RetryableFunc overrides the
// default categorization.
func TestWithRetry_CustomRetryable(t *testing.T) {
	special := stderrors.New("retry me anyway")
	cfg := fastRetry(3)
	cfg.RetryableFunc = func(err error) bool { return stderrors.Is(err, special) }

	calls := 0
	_, err := sgerrors.WithRetry(context.Background(), cfg, func(context.Context) (int, error) {
		calls++
		return 0, special
	})
	assert.ErrorIs(t, err, special)
	assert.Equal(t, 3, calls)
}

// TestNoRetry verifies the single-attempt configuration.
func TestNoRetry(t *testing.T) {
	calls := 0
	_, err := sgerrors.WithRetry(context.Background(), sgerrors.NoRetry, func(context.Context) (int, error) {
		calls++
		return 0, &sgerrors.StorageError{Op: "add", Transient: true, Err: stderrors.New("busy")}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
