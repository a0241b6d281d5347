package errors_test

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	sgerrors "github.com/randalmurphal/streamgraph/pkg/streamgraph/errors"
)

// TestCheckpointError_Formatting verifies message shape and unwrapping.
func TestCheckpointError_Formatting(t *testing.T) {
	cause := stderrors.New("socket closed")
	err := sgerrors.NewCheckpointError(7, sgerrors.ReasonTriggerFailure, cause)
	assert.Equal(t, "checkpoint 7 trigger_failure: socket closed", err.Error())
	assert.ErrorIs(t, err, cause)

	err = err.WithSource("ingest-0")
	assert.Equal(t, "checkpoint 7 trigger_failure at ingest-0: socket closed", err.Error())
}

// TestCategorize verifies the transient/permanent mapping.
func TestCategorize(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want sgerrors.Category
	}{
		{
			"transient storage",
			&sgerrors.StorageError{Op: "add", Transient: true, Err: stderrors.New("busy")},
			sgerrors.CategoryTransient,
		},
		{
			"permanent storage",
			&sgerrors.StorageError{Op: "add", Transient: false, Err: stderrors.New("schema")},
			sgerrors.CategoryPermanent,
		},
		{
			"storage reason delegates to cause",
			sgerrors.NewCheckpointError(1, sgerrors.ReasonStorage,
				&sgerrors.StorageError{Op: "add", Transient: true, Err: stderrors.New("busy")}),
			sgerrors.CategoryTransient,
		},
		{
			"declined is permanent",
			sgerrors.NewCheckpointError(1, sgerrors.ReasonDeclined, stderrors.New("no")),
			sgerrors.CategoryPermanent,
		},
		{
			"expired is permanent",
			sgerrors.NewCheckpointError(1, sgerrors.ReasonExpired, stderrors.New("late")),
			sgerrors.CategoryPermanent,
		},
		{
			"unknown is permanent",
			stderrors.New("mystery"),
			sgerrors.CategoryPermanent,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sgerrors.Categorize(tc.err))
		})
	}
}

// TestIsRejection distinguishes throttling from failure.
func TestIsRejection(t *testing.T) {
	assert.True(t, sgerrors.IsRejection(sgerrors.ErrConcurrentLimit))
	assert.True(t, sgerrors.IsRejection(sgerrors.ErrMinPauseNotElapsed))
	assert.False(t, sgerrors.IsRejection(stderrors.New("boom")))
	assert.False(t, sgerrors.IsRejection(sgerrors.NewCheckpointError(1, sgerrors.ReasonExpired, nil)))
}

// TestReasonString pins the metric label values.
func TestReasonString(t *testing.T) {
	assert.Equal(t, "rejected", sgerrors.ReasonRejected.String())
	assert.Equal(t, "trigger_failure", sgerrors.ReasonTriggerFailure.String())
	assert.Equal(t, "declined", sgerrors.ReasonDeclined.String())
	assert.Equal(t, "expired", sgerrors.ReasonExpired.String())
	assert.Equal(t, "storage", sgerrors.ReasonStorage.String())
}
