package checkpoint_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/checkpoint"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/task"
)

// newTestHandle creates a blob handle whose release state is observable
// through Discarded().
func newTestHandle(owner string, size int64) *state.BlobHandle {
	return state.NewBlobHandle(fmt.Sprintf("mem://snapshots/%s", owner), size, nil)
}

// stubSource records barrier injections and can be made to fail.
type stubSource struct {
	id string

	mu       sync.Mutex
	barriers []task.Barrier
	failWith error
}

func newStubSource(id string) *stubSource {
	return &stubSource{id: id}
}

func (s *stubSource) ID() string { return s.id }

func (s *stubSource) TriggerBarrier(_ context.Context, b task.Barrier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.barriers = append(s.barriers, b)
	return nil
}

func (s *stubSource) barrierCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.barriers)
}

// stubOperator is an OperatorCoordinator that records protocol
// callbacks. By default its snapshot future resolves immediately with
// the configured handle; set hold to resolve it manually later.
type stubOperator struct {
	mu            sync.Mutex
	hold          bool
	handle        state.Handle
	checkpointErr error
	futures       map[int64]*checkpoint.SnapshotFuture
	triggered     []int64
	completed     []int64
	aborted       []int64
}

func newStubOperator() *stubOperator {
	return &stubOperator{futures: make(map[int64]*checkpoint.SnapshotFuture)}
}

func (o *stubOperator) Checkpoint(_ context.Context, checkpointID int64, result *checkpoint.SnapshotFuture) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.checkpointErr != nil {
		return o.checkpointErr
	}
	o.triggered = append(o.triggered, checkpointID)
	o.futures[checkpointID] = result
	if !o.hold {
		result.Complete(o.handle)
	}
	return nil
}

func (o *stubOperator) NotifyCheckpointComplete(checkpointID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed = append(o.completed, checkpointID)
}

func (o *stubOperator) NotifyCheckpointAborted(checkpointID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.aborted = append(o.aborted, checkpointID)
}

func (o *stubOperator) future(checkpointID int64) *checkpoint.SnapshotFuture {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.futures[checkpointID]
}

func (o *stubOperator) completedIDs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.completed...)
}

func (o *stubOperator) abortedIDs() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int64(nil), o.aborted...)
}

// failingStore wraps a store and fails Add, for exercising the
// durability commit point.
type failingStore struct {
	checkpoint.CompletedStore
	addErr error
}

func (f *failingStore) Add(record *checkpoint.CompletedCheckpoint) error {
	if f.addErr != nil {
		return f.addErr
	}
	return f.CompletedStore.Add(record)
}
