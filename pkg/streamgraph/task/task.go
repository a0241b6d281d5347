// Package task is the seam between the checkpoint coordinator and the
// task runtime.
//
// The coordinator reaches tasks only two ways: it injects barriers into
// source tasks, and it receives acknowledgment or decline messages
// back. Downstream barrier alignment inside a task's input buffers is
// the task runtime's own concern and never crosses this boundary.
package task

import (
	"context"
	"time"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
)

// Barrier is the marker injected at source tasks and propagated through
// the dataflow graph. It delimits the records "before" and "after" the
// checkpoint it is tagged with.
type Barrier struct {
	// CheckpointID tags the barrier with the checkpoint attempt.
	CheckpointID int64 `json:"checkpoint_id"`

	// Timestamp is the trigger time carried alongside the barrier.
	Timestamp time.Time `json:"timestamp"`
}

// SourceTask is the coordinator's handle on one source task: barrier
// injection only. Non-source tasks receive barriers from upstream, not
// from the coordinator.
type SourceTask interface {
	// ID returns the subtask identifier.
	ID() string

	// TriggerBarrier hands the task a barrier to emit into its output.
	// It must not block on downstream alignment.
	TriggerBarrier(ctx context.Context, b Barrier) error
}

// Ack is a task's positive acknowledgment for one checkpoint.
type Ack struct {
	// CheckpointID names the checkpoint the acknowledgment belongs to.
	// Attribution is always by this id, never inferred from timing.
	CheckpointID int64

	// TaskID identifies the acknowledging subtask.
	TaskID string

	// Handle references the task's state snapshot, or nil for a
	// stateless task.
	Handle state.Handle

	// Timestamp is when the task finished its snapshot.
	Timestamp time.Time
}

// Decline is a task's explicit refusal to snapshot: the owning pending
// checkpoint is aborted immediately instead of waiting for its deadline.
type Decline struct {
	// CheckpointID names the declined checkpoint.
	CheckpointID int64

	// TaskID identifies the declining subtask.
	TaskID string

	// Cause is why the task could not snapshot.
	Cause error

	// Timestamp is when the task declined.
	Timestamp time.Time
}

// Sink receives task messages at the coordinator's serialization
// boundary. Implemented by checkpoint.Coordinator.
type Sink interface {
	// AcknowledgeTask folds one task acknowledgment into the named
	// pending checkpoint. Late and duplicate acknowledgments are no-ops.
	AcknowledgeTask(checkpointID int64, taskID string, handle state.Handle)

	// DeclineCheckpoint aborts the named pending checkpoint on behalf
	// of a task that cannot snapshot.
	DeclineCheckpoint(checkpointID int64, taskID string, cause error)
}
