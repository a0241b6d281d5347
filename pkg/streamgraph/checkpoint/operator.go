package checkpoint

import (
	"context"
	"sync"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
)

// OperatorCoordinator is the capability interface a coordinated
// operator's control-plane logic implements to participate in
// checkpointing. Concrete coordinator kinds (split assignment, global
// counters, ...) live behind this interface; the checkpoint machinery
// never subclasses into them.
type OperatorCoordinator interface {
	// Checkpoint asynchronously snapshots the coordinator's state for
	// the given checkpoint id. It must not block: start the snapshot
	// and resolve result from any goroutine. Returning an error means
	// the snapshot could not even start; the owning checkpoint attempt
	// is aborted.
	Checkpoint(ctx context.Context, checkpointID int64, result *SnapshotFuture) error

	// NotifyCheckpointComplete informs the coordinator that the named
	// checkpoint reached Completed.
	NotifyCheckpointComplete(checkpointID int64)

	// NotifyCheckpointAborted informs the coordinator that the named
	// checkpoint was abandoned.
	NotifyCheckpointAborted(checkpointID int64)
}

// BarrierAware is an optional extension for coordinators that must
// distinguish coordination actions before and after barrier injection:
// once barriers are out, mutating state that affects what the barrier
// represents would break the logical cut.
type BarrierAware interface {
	AfterBarrierInjection(checkpointID int64)
}

// SnapshotFuture carries the asynchronous result of one coordinator
// snapshot. It resolves exactly once, via Complete or Fail, from any
// goroutine.
type SnapshotFuture struct {
	once   sync.Once
	done   chan struct{}
	handle state.Handle
	err    error
}

// NewSnapshotFuture creates an unresolved future.
func NewSnapshotFuture() *SnapshotFuture {
	return &SnapshotFuture{done: make(chan struct{})}
}

// Complete resolves the future with a state handle. A nil handle is a
// valid "no state" result. Only the first resolution wins.
func (f *SnapshotFuture) Complete(handle state.Handle) {
	f.once.Do(func() {
		f.handle = handle
		close(f.done)
	})
}

// Fail resolves the future with an error.
func (f *SnapshotFuture) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *SnapshotFuture) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the future resolves, then returns the handle or
// the failure.
func (f *SnapshotFuture) Result() (state.Handle, error) {
	<-f.done
	return f.handle, f.err
}

// OperatorInfo is the static identity of a coordinated operator,
// immutable for the job's run.
type OperatorInfo struct {
	// OperatorID identifies the operator in the job graph.
	OperatorID string

	// MaxParallelism is the operator's key-group ceiling.
	MaxParallelism int

	// Parallelism is the operator's current parallelism.
	Parallelism int
}

// contextSink is the funnel from an operator context back into the
// coordinator's serialization boundary. Implemented by Coordinator.
type contextSink interface {
	acknowledgeCoordinator(checkpointID int64, operatorID string, handle state.Handle)
	failCoordinatorSnapshot(checkpointID int64, operatorID string, err error)
}

// attemptPhase tracks one checkpoint attempt inside an operator context.
type attemptPhase struct {
	future *SnapshotFuture
	// sealed flips once barriers are injected: the attempt can then no
	// longer be abandoned by AbortCurrentTriggering, only by an
	// explicit abort of the pending checkpoint.
	sealed  bool
	aborted bool
}

// OperatorContext wraps one OperatorCoordinator for the lifetime of the
// job and adapts it to the checkpoint protocol. It is a long-lived
// registration: pending checkpoints reference it by operator id, never
// own it.
//
// The context serializes its own bookkeeping; callbacks may be invoked
// from the coordinator's trigger fan-out and from snapshot goroutines
// concurrently.
type OperatorContext struct {
	info        OperatorInfo
	coordinator OperatorCoordinator
	sink        contextSink

	mu       sync.Mutex
	attempts map[int64]*attemptPhase
}

// NewOperatorContext wraps a coordinator implementation. The context is
// inert until registered with a Coordinator, which supplies the ack
// funnel.
func NewOperatorContext(info OperatorInfo, oc OperatorCoordinator) *OperatorContext {
	return &OperatorContext{
		info:        info,
		coordinator: oc,
		attempts:    make(map[int64]*attemptPhase),
	}
}

// OperatorID returns the coordinated operator's id.
func (o *OperatorContext) OperatorID() string { return o.info.OperatorID }

// MaxParallelism returns the operator's key-group ceiling.
func (o *OperatorContext) MaxParallelism() int { return o.info.MaxParallelism }

// CurrentParallelism returns the operator's current parallelism.
func (o *OperatorContext) CurrentParallelism() int { return o.info.Parallelism }

// Coordinator returns the wrapped coordinator implementation.
func (o *OperatorContext) Coordinator() OperatorCoordinator { return o.coordinator }

// bind attaches the ack funnel. Called by Coordinator.RegisterOperator.
func (o *OperatorContext) bind(sink contextSink) {
	o.sink = sink
}

// OnCallTriggerCheckpoint starts the coordinator's asynchronous
// snapshot for the given checkpoint id. Invoked exactly once per id
// while that checkpoint is being triggered. The snapshot result is
// delivered later through OnCheckpointStateFutureComplete.
func (o *OperatorContext) OnCallTriggerCheckpoint(ctx context.Context, checkpointID int64) error {
	future := NewSnapshotFuture()

	o.mu.Lock()
	o.attempts[checkpointID] = &attemptPhase{future: future}
	o.mu.Unlock()

	if err := o.coordinator.Checkpoint(ctx, checkpointID, future); err != nil {
		o.mu.Lock()
		delete(o.attempts, checkpointID)
		o.mu.Unlock()
		return err
	}

	go func() {
		<-future.Done()
		o.OnCheckpointStateFutureComplete(checkpointID)
	}()
	return nil
}

// OnCheckpointStateFutureComplete delivers the resolved snapshot to the
// coordinator, unless the attempt was aborted in the meantime. An
// aborted attempt's handle is released, never applied.
func (o *OperatorContext) OnCheckpointStateFutureComplete(checkpointID int64) {
	o.mu.Lock()
	attempt, ok := o.attempts[checkpointID]
	if !ok {
		o.mu.Unlock()
		return
	}
	aborted := attempt.aborted
	future := attempt.future
	if aborted {
		delete(o.attempts, checkpointID)
	}
	o.mu.Unlock()

	handle, err := future.Result()
	if aborted {
		if handle != nil {
			// Release is explicit and idempotent; a late result must
			// not leak its backing blob.
			_ = handle.Discard()
		}
		return
	}

	if err != nil {
		o.sink.failCoordinatorSnapshot(checkpointID, o.info.OperatorID, err)
		return
	}
	o.sink.acknowledgeCoordinator(checkpointID, o.info.OperatorID, handle)
}

// AfterSourceBarrierInjection marks the attempt as past the alignment
// point: all source tasks have been handed the barrier for this id.
// From here on the attempt can only end through the pending
// checkpoint's own completion or abort.
func (o *OperatorContext) AfterSourceBarrierInjection(checkpointID int64) {
	o.mu.Lock()
	if attempt, ok := o.attempts[checkpointID]; ok {
		attempt.sealed = true
	}
	o.mu.Unlock()

	if ba, ok := o.coordinator.(BarrierAware); ok {
		ba.AfterBarrierInjection(checkpointID)
	}
}

// AbortCurrentTriggering abandons every attempt still in its triggering
// phase (barriers not yet injected). Partially started snapshot work is
// not interrupted; its eventual result is discarded. Idempotent.
func (o *OperatorContext) AbortCurrentTriggering() {
	o.mu.Lock()
	for _, attempt := range o.attempts {
		if !attempt.sealed {
			attempt.aborted = true
		}
	}
	o.mu.Unlock()
}

// abortTriggering abandons the named attempt when its barriers have not
// yet been injected. Other in-flight attempts are untouched; the
// Coordinator uses this when one trigger's fan-out fails while another
// checkpoint is still triggering concurrently.
func (o *OperatorContext) abortTriggering(checkpointID int64) {
	o.mu.Lock()
	if attempt, ok := o.attempts[checkpointID]; ok && !attempt.sealed {
		attempt.aborted = true
	}
	o.mu.Unlock()
}

// notifyComplete forwards the terminal Completed transition and drops
// the attempt bookkeeping.
func (o *OperatorContext) notifyComplete(checkpointID int64) {
	o.mu.Lock()
	delete(o.attempts, checkpointID)
	o.mu.Unlock()
	o.coordinator.NotifyCheckpointComplete(checkpointID)
}

// notifyAborted forwards the terminal Aborted transition. A resolved
// attempt is dropped immediately and its handle released; an unresolved
// one stays marked aborted so the eventual result is released rather
// than applied.
func (o *OperatorContext) notifyAborted(checkpointID int64) {
	var orphan state.Handle
	o.mu.Lock()
	if attempt, ok := o.attempts[checkpointID]; ok {
		attempt.aborted = true
		select {
		case <-attempt.future.Done():
			delete(o.attempts, checkpointID)
			if handle, err := attempt.future.Result(); err == nil {
				orphan = handle
			}
		default:
		}
	}
	o.mu.Unlock()
	if orphan != nil {
		_ = orphan.Discard()
	}
	o.coordinator.NotifyCheckpointAborted(checkpointID)
}
