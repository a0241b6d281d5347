package checkpoint

import (
	"errors"
	"time"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
)

// AckResult is the outcome of folding one acknowledgment into a
// pending checkpoint.
type AckResult int

const (
	// AckSuccess indicates the acknowledgment filled an outstanding slot.
	AckSuccess AckResult = iota

	// AckDuplicate indicates the slot was already filled; the repeat
	// delivery is a no-op.
	AckDuplicate

	// AckUnknownSource indicates the source was never expected by this
	// checkpoint.
	AckUnknownSource

	// AckNotPending indicates the checkpoint already reached a terminal
	// state; the acknowledgment is discarded.
	AckNotPending
)

// String returns the result name.
func (r AckResult) String() string {
	switch r {
	case AckSuccess:
		return "success"
	case AckDuplicate:
		return "duplicate"
	case AckUnknownSource:
		return "unknown_source"
	case AckNotPending:
		return "not_pending"
	default:
		return "unknown"
	}
}

// Sentinel errors for pending-checkpoint transitions.
var (
	// ErrNotFullyAcknowledged indicates Finalize was called with
	// outstanding slots.
	ErrNotFullyAcknowledged = errors.New("checkpoint not fully acknowledged")

	// ErrNotPending indicates a transition on an already-terminal
	// checkpoint.
	ErrNotPending = errors.New("checkpoint not pending")
)

// PendingCheckpoint tracks one in-flight checkpoint attempt: which task
// and coordinator slots are still outstanding, what has been collected
// so far, and the attempt's deadline.
//
// A PendingCheckpoint is not self-locking. It is exclusively owned by
// the Coordinator and mutated only under the Coordinator's
// serialization boundary.
type PendingCheckpoint struct {
	id          int64
	kind        string
	triggerTime time.Time
	deadline    time.Time

	status     Status
	abortCause error

	notYetAckedTasks        map[string]struct{}
	notYetAckedCoordinators map[string]struct{}
	ackedTasks              map[string]struct{}
	ackedCoordinators       map[string]struct{}

	taskStates        map[string]state.Handle
	coordinatorStates map[string]state.Handle
}

// NewPendingCheckpoint creates a pending checkpoint expecting one
// acknowledgment per task id and one per operator id.
func NewPendingCheckpoint(id int64, kind string, triggerTime, deadline time.Time, taskIDs, operatorIDs []string) *PendingCheckpoint {
	tasks := make(map[string]struct{}, len(taskIDs))
	for _, t := range taskIDs {
		tasks[t] = struct{}{}
	}
	coordinators := make(map[string]struct{}, len(operatorIDs))
	for _, o := range operatorIDs {
		coordinators[o] = struct{}{}
	}
	return &PendingCheckpoint{
		id:                      id,
		kind:                    kind,
		triggerTime:             triggerTime,
		deadline:                deadline,
		status:                  StatusPending,
		notYetAckedTasks:        tasks,
		notYetAckedCoordinators: coordinators,
		ackedTasks:              make(map[string]struct{}, len(taskIDs)),
		ackedCoordinators:       make(map[string]struct{}, len(operatorIDs)),
		taskStates:              make(map[string]state.Handle),
		coordinatorStates:       make(map[string]state.Handle),
	}
}

// ID returns the checkpoint identifier.
func (p *PendingCheckpoint) ID() int64 { return p.id }

// Status returns the attempt's lifecycle state.
func (p *PendingCheckpoint) Status() Status { return p.status }

// Deadline returns the absolute expiry of the attempt.
func (p *PendingCheckpoint) Deadline() time.Time { return p.deadline }

// AbortCause returns why the attempt was aborted, or nil.
func (p *PendingCheckpoint) AbortCause() error { return p.abortCause }

// Expired reports whether the deadline has passed at the given instant.
func (p *PendingCheckpoint) Expired(now time.Time) bool {
	return now.After(p.deadline)
}

// Remaining returns the number of outstanding acknowledgment slots.
func (p *PendingCheckpoint) Remaining() int {
	return len(p.notYetAckedTasks) + len(p.notYetAckedCoordinators)
}

// IsFullyAcknowledged reports whether every expected task slot and
// every expected coordinator slot has a recorded contribution.
func (p *PendingCheckpoint) IsFullyAcknowledged() bool {
	return p.Remaining() == 0
}

// AcknowledgeTask records one task's contribution. Duplicate and late
// acknowledgments are no-ops; the already-collected handle is kept and
// a differing redelivered handle is released.
func (p *PendingCheckpoint) AcknowledgeTask(taskID string, handle state.Handle) AckResult {
	return p.acknowledge(p.notYetAckedTasks, p.ackedTasks, p.taskStates, taskID, handle)
}

// AcknowledgeCoordinator records one operator coordinator's contribution.
func (p *PendingCheckpoint) AcknowledgeCoordinator(operatorID string, handle state.Handle) AckResult {
	return p.acknowledge(p.notYetAckedCoordinators, p.ackedCoordinators, p.coordinatorStates, operatorID, handle)
}

func (p *PendingCheckpoint) acknowledge(outstanding, acked map[string]struct{}, collected map[string]state.Handle, sourceID string, handle state.Handle) AckResult {
	if p.status != StatusPending {
		return AckNotPending
	}
	if _, filled := acked[sourceID]; filled {
		if handle != nil && handle != collected[sourceID] {
			// A redelivery can carry a fresh handle; only the first
			// contribution is kept.
			_ = handle.Discard()
		}
		return AckDuplicate
	}
	if _, expected := outstanding[sourceID]; !expected {
		return AckUnknownSource
	}
	delete(outstanding, sourceID)
	acked[sourceID] = struct{}{}
	if handle != nil {
		collected[sourceID] = handle
	}
	return AckSuccess
}

// Abort transitions the attempt to Aborted, releasing every collected
// handle. Idempotent: a second abort keeps the original cause and
// releases nothing twice (handle releases are themselves idempotent).
// Release failures are joined into the returned error for logging.
func (p *PendingCheckpoint) Abort(cause error) error {
	if p.status != StatusPending {
		return nil
	}
	p.status = StatusAborted
	p.abortCause = cause

	var errs []error
	for owner, h := range p.taskStates {
		if err := h.Discard(); err != nil {
			errs = append(errs, &discardError{owner: owner, err: err})
		}
	}
	for owner, h := range p.coordinatorStates {
		if err := h.Discard(); err != nil {
			errs = append(errs, &discardError{owner: owner, err: err})
		}
	}
	p.taskStates = nil
	p.coordinatorStates = nil
	return errors.Join(errs...)
}

// Finalize converts the attempt into an immutable completed record and
// transitions to Completed. This is the single commit point; it fails
// unless the attempt is pending and fully acknowledged.
func (p *PendingCheckpoint) Finalize() (*CompletedCheckpoint, error) {
	if p.status != StatusPending {
		return nil, ErrNotPending
	}
	if !p.IsFullyAcknowledged() {
		return nil, ErrNotFullyAcknowledged
	}

	p.status = StatusCompleted
	record := &CompletedCheckpoint{
		ID:                p.id,
		Kind:              p.kind,
		TriggerTime:       p.triggerTime,
		CompleteTime:      time.Now().UTC(),
		TaskStates:        p.taskStates,
		CoordinatorStates: p.coordinatorStates,
	}
	p.taskStates = nil
	p.coordinatorStates = nil
	return record, nil
}

// Summary returns the checkpoint summary for the attempt.
func (p *PendingCheckpoint) Summary() Checkpoint {
	return Checkpoint{
		ID:          p.id,
		Kind:        p.kind,
		TriggerTime: p.triggerTime,
		Status:      p.status,
	}
}
