package checkpoint

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
)

// MetadataVersion is the current completed-checkpoint metadata format.
// Increment when making breaking changes to the persisted structure.
const MetadataVersion = 1

// Status is the lifecycle state of a checkpoint attempt.
// A checkpoint transitions Pending -> Completed or Pending -> Aborted
// exactly once; terminal states are immutable.
type Status int

const (
	// StatusPending indicates the checkpoint is in flight and accepting
	// acknowledgments.
	StatusPending Status = iota

	// StatusCompleted indicates the checkpoint was fully acknowledged
	// and durably stored.
	StatusCompleted

	// StatusAborted indicates the checkpoint was abandoned; collected
	// state has been released.
	StatusAborted
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Checkpoint is the summary of one checkpoint attempt.
type Checkpoint struct {
	// ID is the strictly increasing checkpoint identifier.
	ID int64 `json:"id"`

	// Kind is "full" or "incremental", opaque to the protocol.
	Kind string `json:"kind"`

	// TriggerTime is when the attempt was triggered.
	TriggerTime time.Time `json:"trigger_time"`

	// Status is the attempt's lifecycle state.
	Status Status `json:"status"`
}

// CompletedCheckpoint is the immutable record of a finished checkpoint:
// the union of all collected state handles plus enough metadata to be
// used for recovery. Produced only by PendingCheckpoint.Finalize.
type CompletedCheckpoint struct {
	// ID is the checkpoint identifier.
	ID int64

	// Kind is carried through from the trigger.
	Kind string

	// TriggerTime is when the attempt was triggered.
	TriggerTime time.Time

	// CompleteTime is when the last acknowledgment was folded in.
	CompleteTime time.Time

	// TaskStates maps subtask id to its state handle. Stateless tasks
	// have no entry.
	TaskStates map[string]state.Handle

	// CoordinatorStates maps operator id to its coordinator state handle.
	CoordinatorStates map[string]state.Handle
}

// StateSize returns the total size of all referenced state in bytes.
func (c *CompletedCheckpoint) StateSize() int64 {
	var total int64
	for _, h := range c.TaskStates {
		total += h.Size()
	}
	for _, h := range c.CoordinatorStates {
		total += h.Size()
	}
	return total
}

// DiscardState releases every state handle referenced by the record.
// Handle releases are idempotent, so discarding an already-discarded
// record is harmless. Individual release failures are joined; stale
// snapshots waste storage but do not affect correctness.
func (c *CompletedCheckpoint) DiscardState() error {
	var errs []error
	for owner, h := range c.TaskStates {
		if err := h.Discard(); err != nil {
			errs = append(errs, &discardError{owner: owner, err: err})
		}
	}
	for owner, h := range c.CoordinatorStates {
		if err := h.Discard(); err != nil {
			errs = append(errs, &discardError{owner: owner, err: err})
		}
	}
	return errors.Join(errs...)
}

type discardError struct {
	owner string
	err   error
}

func (e *discardError) Error() string { return e.owner + ": " + e.err.Error() }
func (e *discardError) Unwrap() error { return e.err }

// handleMeta is the persisted form of one state handle reference.
type handleMeta struct {
	Owner string `json:"owner"`
	Scope string `json:"scope"` // "task" or "coordinator"
	URI   string `json:"uri"`
	Size  int64  `json:"size"`
}

// completedMeta is the persisted form of a completed checkpoint.
type completedMeta struct {
	Version      int          `json:"version"`
	ID           int64        `json:"id"`
	Kind         string       `json:"kind"`
	TriggerTime  time.Time    `json:"trigger_time"`
	CompleteTime time.Time    `json:"complete_time"`
	Handles      []handleMeta `json:"handles"`
}

// Marshal serializes the record's recovery metadata to JSON. Handles
// are persisted as references (uri, size); their release hooks are
// process-local and not serialized.
func (c *CompletedCheckpoint) Marshal() ([]byte, error) {
	meta := completedMeta{
		Version:      MetadataVersion,
		ID:           c.ID,
		Kind:         c.Kind,
		TriggerTime:  c.TriggerTime,
		CompleteTime: c.CompleteTime,
	}
	for owner, h := range c.TaskStates {
		meta.Handles = append(meta.Handles, handleMeta{Owner: owner, Scope: "task", URI: h.URI(), Size: h.Size()})
	}
	for owner, h := range c.CoordinatorStates {
		meta.Handles = append(meta.Handles, handleMeta{Owner: owner, Scope: "coordinator", URI: h.URI(), Size: h.Size()})
	}
	return json.Marshal(meta)
}

// Unmarshal deserializes a completed checkpoint from its recovery
// metadata. Reconstructed handles reference the external store but
// carry no release hook; releasing recovered state is the recovery
// layer's concern.
func Unmarshal(data []byte) (*CompletedCheckpoint, error) {
	var meta completedMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	if meta.Version != MetadataVersion {
		return nil, ErrMetadataVersion
	}

	c := &CompletedCheckpoint{
		ID:                meta.ID,
		Kind:              meta.Kind,
		TriggerTime:       meta.TriggerTime,
		CompleteTime:      meta.CompleteTime,
		TaskStates:        make(map[string]state.Handle),
		CoordinatorStates: make(map[string]state.Handle),
	}
	for _, h := range meta.Handles {
		handle := state.NewBlobHandle(h.URI, h.Size, nil)
		switch h.Scope {
		case "coordinator":
			c.CoordinatorStates[h.Owner] = handle
		default:
			c.TaskStates[h.Owner] = handle
		}
	}
	return c, nil
}

// Summary returns the checkpoint summary for the completed record.
func (c *CompletedCheckpoint) Summary() Checkpoint {
	return Checkpoint{
		ID:          c.ID,
		Kind:        c.Kind,
		TriggerTime: c.TriggerTime,
		Status:      StatusCompleted,
	}
}
