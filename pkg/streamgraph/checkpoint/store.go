// Package checkpoint implements the checkpoint-coordination protocol
// for a running dataflow: triggering attempts, propagating alignment
// barriers to source tasks, collecting per-task and per-coordinator
// acknowledgments, deciding completion or abort, and retaining a
// bounded ledger of completed checkpoints.
package checkpoint

import (
	"errors"
)

// CompletedStore is the durable ledger of finished checkpoints.
// Implementations must be safe for concurrent use.
//
// Durability, not acknowledgment, is the commit point visible to
// recovery: a fully acknowledged checkpoint whose Add fails is a failed
// checkpoint.
type CompletedStore interface {
	// Add durably stores a completed checkpoint before returning.
	Add(record *CompletedCheckpoint) error

	// Subsume discards all but the retain most recent completed
	// checkpoints in increasing-id order, releasing their state
	// handles. Returns the number discarded. Release failures are
	// reported but the discard still counts; callers log, not fail.
	Subsume(retain int) (int, error)

	// LatestID returns the highest stored checkpoint id, or 0 when the
	// store is empty. Used at startup to seed the id counter.
	LatestID() (int64, error)

	// All returns the retained completed checkpoints in increasing-id
	// order.
	All() ([]*CompletedCheckpoint, error)

	// Close releases any resources (connections, files).
	Close() error
}

// IDCounter hands out checkpoint identifiers. Next must return a value
// strictly greater than every previously returned value, even across a
// coordinator restart; implementations persist the increment before
// returning it.
type IDCounter interface {
	Next() (int64, error)
}

// Sentinel errors for stores and counters.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrDuplicateID indicates an Add with an id the store already holds.
	ErrDuplicateID = errors.New("duplicate checkpoint id")

	// ErrMetadataVersion indicates persisted metadata from an
	// incompatible format version.
	ErrMetadataVersion = errors.New("checkpoint metadata version mismatch")
)
