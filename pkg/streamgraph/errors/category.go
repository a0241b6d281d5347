// Package errors provides the checkpoint failure taxonomy and retry
// helpers for transient storage faults.
//
// Every way a checkpoint attempt can fail maps onto a Reason, and every
// Reason maps onto a Category that decides whether retrying the
// underlying operation can help. None of the reasons are fatal to the
// coordinator: the job keeps running and the next trigger proceeds.
package errors

import (
	"errors"
	"fmt"
)

// Trigger rejection sentinels. A rejected trigger is a deferred no-op,
// not a failure: the caller is told "not now" and may try again later.
var (
	// ErrConcurrentLimit indicates the number of pending checkpoints
	// has reached the configured concurrency bound.
	ErrConcurrentLimit = errors.New("too many concurrent pending checkpoints")

	// ErrMinPauseNotElapsed indicates the minimum pause since the last
	// trigger has not elapsed yet.
	ErrMinPauseNotElapsed = errors.New("minimum pause between checkpoints not elapsed")
)

// Reason classifies why a checkpoint attempt did not complete.
type Reason int

const (
	// ReasonRejected indicates the trigger was refused up front
	// (concurrency bound or pause window). No id was allocated.
	ReasonRejected Reason = iota

	// ReasonTriggerFailure indicates a source task or operator
	// coordinator could not be reached while fanning out the trigger.
	ReasonTriggerFailure

	// ReasonDeclined indicates a task explicitly refused to snapshot
	// after the checkpoint became pending.
	ReasonDeclined

	// ReasonExpired indicates the deadline elapsed before all
	// acknowledgments arrived.
	ReasonExpired

	// ReasonStorage indicates the completed-checkpoint store refused a
	// durable write, or the id counter could not persist. Acknowledgment
	// alone is not the commit point; durability is.
	ReasonStorage
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonRejected:
		return "rejected"
	case ReasonTriggerFailure:
		return "trigger_failure"
	case ReasonDeclined:
		return "declined"
	case ReasonExpired:
		return "expired"
	case ReasonStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Category represents whether retrying the underlying operation is
// likely to help.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: storage temporarily unreachable, write contention.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: declined snapshots, expired deadlines, closed stores.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CheckpointError wraps an error with the checkpoint attempt it belongs
// to and the reason the attempt failed.
type CheckpointError struct {
	// CheckpointID is the id of the failed attempt. Zero when the
	// failure happened before an id was allocated.
	CheckpointID int64

	// Reason classifies the failure.
	Reason Reason

	// Source identifies the task or operator that caused the failure,
	// if any.
	Source string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CheckpointError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("checkpoint %d %s at %s: %v", e.CheckpointID, e.Reason, e.Source, e.Err)
	}
	return fmt.Sprintf("checkpoint %d %s: %v", e.CheckpointID, e.Reason, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// NewCheckpointError creates a checkpoint error for the given attempt.
func NewCheckpointError(checkpointID int64, reason Reason, err error) *CheckpointError {
	return &CheckpointError{CheckpointID: checkpointID, Reason: reason, Err: err}
}

// WithSource attaches the causing task or operator id.
func (e *CheckpointError) WithSource(source string) *CheckpointError {
	e.Source = source
	return e
}

// StorageError marks a storage-layer failure as transient or permanent.
// The SQLite store wraps driver errors in this type so the retry helper
// can tell contention apart from schema or close failures.
type StorageError struct {
	// Op is the storage operation that failed ("add", "persist id", ...).
	Op string
	// Transient reports whether retrying may help.
	Transient bool
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Categorize determines whether an error is worth retrying.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		if storageErr.Transient {
			return CategoryTransient
		}
		return CategoryPermanent
	}

	var cpErr *CheckpointError
	if errors.As(err, &cpErr) {
		if cpErr.Reason == ReasonStorage {
			return Categorize(cpErr.Err)
		}
		return CategoryPermanent
	}

	// Unknown errors are permanent (fail safe).
	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsRejection reports whether the error is a trigger rejection rather
// than a failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrConcurrentLimit) || errors.Is(err, ErrMinPauseNotElapsed)
}
