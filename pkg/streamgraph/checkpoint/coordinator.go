package checkpoint

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/config"
	sgerrors "github.com/randalmurphal/streamgraph/pkg/streamgraph/errors"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/observability"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/task"
)

// ErrCoordinatorClosed indicates an operation on a closed coordinator.
var ErrCoordinatorClosed = errors.New("checkpoint coordinator closed")

// Coordinator is the single authority over the checkpoint protocol for
// one job: it triggers attempts, routes acknowledgments, applies
// timeout and completion logic, and publishes completed checkpoints to
// the store.
//
// The coordinator is logically single-writer. All mutations of the
// pending-checkpoint table and all trigger decisions run under one
// mutex; acknowledgments arriving concurrently from many tasks and
// coordinators serialize at that boundary. Trigger fan-out (barrier
// injection, coordinator snapshots) runs outside the mutex so slow
// remote calls never block acknowledgment intake.
type Coordinator struct {
	jobID string
	cfg   config.Config

	counter IDCounter
	store   CompletedStore

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	mu            sync.Mutex
	sources       []task.SourceTask
	expectedTasks []string
	contexts      []*OperatorContext
	pending       map[int64]*PendingCheckpoint
	attemptSpans  map[int64]trace.Span
	lastTrigger   time.Time
	started       bool
	closed        bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Compile-time check: the coordinator is the sink for task messages.
var _ task.Sink = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger. Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSpanManager sets the tracing span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *Coordinator) { c.spans = s }
}

// NewCoordinator creates a coordinator for one job. The configuration
// must be valid (see config.Config.Validate). Register sources, task
// slots, and operator coordinators before Start.
func NewCoordinator(jobID string, cfg config.Config, counter IDCounter, store CompletedStore, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		jobID:        jobID,
		cfg:          cfg,
		counter:      counter,
		store:        store,
		metrics:      observability.NoopMetrics{},
		spans:        observability.NoopSpanManager{},
		pending:      make(map[int64]*PendingCheckpoint),
		attemptSpans: make(map[int64]trace.Span),
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RegisterSource adds a source task that receives barrier injections.
// The source is also an expected acknowledgment slot.
func (c *Coordinator) RegisterSource(s task.SourceTask) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, s)
	c.expectedTasks = append(c.expectedTasks, s.ID())
}

// RegisterTask adds a non-source subtask as an expected acknowledgment
// slot. Barriers reach it through the dataflow, not from the
// coordinator.
func (c *Coordinator) RegisterTask(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expectedTasks = append(c.expectedTasks, taskID)
}

// RegisterOperator wraps and registers an operator coordinator. The
// returned context is a long-lived registration referenced by every
// subsequent checkpoint.
func (c *Coordinator) RegisterOperator(info OperatorInfo, oc OperatorCoordinator) *OperatorContext {
	octx := NewOperatorContext(info, oc)
	octx.bind(c)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contexts = append(c.contexts, octx)
	return octx
}

// Start launches the deadline sweep and, when an interval is
// configured, the periodic trigger loop.
func (c *Coordinator) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.sweepLoop()

	if c.cfg.Interval > 0 {
		c.wg.Add(1)
		go c.triggerLoop()
	}
}

// Close aborts every pending checkpoint, stops the background loops,
// and refuses further triggers. Safe to call more than once. The
// completed-checkpoint store is not closed; it outlives the
// coordinator.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)

	var posts []func()
	for _, pc := range c.pendingSnapshot() {
		posts = append(posts, c.abortLocked(pc, sgerrors.NewCheckpointError(pc.ID(), sgerrors.ReasonRejected, ErrCoordinatorClosed)))
	}
	c.mu.Unlock()

	for _, post := range posts {
		post()
	}
	c.wg.Wait()
	return nil
}

// TriggerCheckpoint starts one checkpoint attempt and returns its id.
//
// A trigger is rejected (errors.ErrConcurrentLimit,
// errors.ErrMinPauseNotElapsed) when the concurrency bound is reached
// or the pause window has not elapsed; rejection is throttling, not
// failure. A trigger fails when no id can be allocated or the fan-out
// to sources and operator coordinators fails; the attempt is aborted
// and reported, the coordinator stays usable.
func (c *Coordinator) TriggerCheckpoint(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrCoordinatorClosed
	}
	if len(c.pending) >= c.cfg.MaxConcurrent {
		c.mu.Unlock()
		c.metrics.RecordTrigger(ctx, false)
		observability.LogTriggerRejected(c.logger, "concurrent limit")
		return 0, sgerrors.ErrConcurrentLimit
	}
	if c.cfg.MinPause > 0 && !c.lastTrigger.IsZero() && time.Since(c.lastTrigger) < c.cfg.MinPause {
		c.mu.Unlock()
		c.metrics.RecordTrigger(ctx, false)
		observability.LogTriggerRejected(c.logger, "min pause")
		return 0, sgerrors.ErrMinPauseNotElapsed
	}

	// The id space and the pending table share the same serialization
	// boundary; the increment is durable before the id is used.
	id, err := c.counter.Next()
	if err != nil {
		c.mu.Unlock()
		c.metrics.RecordTrigger(ctx, false)
		cause := sgerrors.NewCheckpointError(0, sgerrors.ReasonStorage, err)
		observability.LogStoreError(c.logger, "next id", cause)
		return 0, cause
	}

	now := time.Now()
	pc := NewPendingCheckpoint(id, c.cfg.Kind, now, now.Add(c.cfg.Timeout), c.expectedTasks, c.operatorIDsLocked())
	c.pending[id] = pc
	c.lastTrigger = now

	spanCtx, span := c.spans.StartCheckpointSpan(ctx, c.jobID, id)
	c.attemptSpans[id] = span

	contexts := append([]*OperatorContext(nil), c.contexts...)
	sources := append([]task.SourceTask(nil), c.sources...)
	c.mu.Unlock()

	c.metrics.RecordTrigger(ctx, true)
	c.metrics.RecordInFlight(ctx, 1)
	observability.LogTriggerStart(c.logger, id, c.cfg.Kind, len(c.expectedTasks), len(contexts))

	// Fan out: coordinator snapshots and source barrier injections run
	// concurrently and independently; the only synchronization point is
	// "all issued" before AfterSourceBarrierInjection.
	barrier := task.Barrier{CheckpointID: id, Timestamp: now}
	g, gctx := errgroup.WithContext(spanCtx)
	for _, octx := range contexts {
		g.Go(func() error {
			if err := octx.OnCallTriggerCheckpoint(gctx, id); err != nil {
				return sgerrors.NewCheckpointError(id, sgerrors.ReasonTriggerFailure, err).WithSource(octx.OperatorID())
			}
			return nil
		})
	}
	for _, src := range sources {
		g.Go(func() error {
			if err := src.TriggerBarrier(gctx, barrier); err != nil {
				return sgerrors.NewCheckpointError(id, sgerrors.ReasonTriggerFailure, err).WithSource(src.ID())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, octx := range contexts {
			octx.abortTriggering(id)
		}
		c.mu.Lock()
		var post func()
		if pc, ok := c.pending[id]; ok {
			post = c.abortLocked(pc, err)
		}
		c.mu.Unlock()
		if post != nil {
			post()
		}
		return 0, err
	}

	for _, octx := range contexts {
		octx.AfterSourceBarrierInjection(id)
	}
	c.spans.AddSpanEvent(spanCtx, "barriers_injected")

	// A job with no acknowledgment slots, or one whose last ack raced in
	// during fan-out, completes here; completion is otherwise only
	// checked when an ack arrives.
	c.mu.Lock()
	var post func()
	if pc, ok := c.pending[id]; ok && pc.IsFullyAcknowledged() {
		post = c.completeLocked(pc)
	}
	c.mu.Unlock()
	if post != nil {
		post()
	}
	return id, nil
}

// AcknowledgeTask folds one task acknowledgment into the named pending
// checkpoint. Acknowledgments for unknown, completed, or aborted
// checkpoints are ignored; their handles are released so late
// stragglers cannot leak blobs.
func (c *Coordinator) AcknowledgeTask(checkpointID int64, taskID string, handle state.Handle) {
	c.acknowledge(checkpointID, taskID, handle, func(pc *PendingCheckpoint) AckResult {
		return pc.AcknowledgeTask(taskID, handle)
	})
}

// AcknowledgeCoordinator folds one operator-coordinator acknowledgment
// into the named pending checkpoint.
func (c *Coordinator) AcknowledgeCoordinator(checkpointID int64, operatorID string, handle state.Handle) {
	c.acknowledge(checkpointID, operatorID, handle, func(pc *PendingCheckpoint) AckResult {
		return pc.AcknowledgeCoordinator(operatorID, handle)
	})
}

func (c *Coordinator) acknowledge(checkpointID int64, sourceID string, handle state.Handle, fold func(*PendingCheckpoint) AckResult) {
	c.mu.Lock()
	pc, ok := c.pending[checkpointID]
	if !ok {
		c.mu.Unlock()
		observability.LogLateAck(c.logger, checkpointID, sourceID)
		c.releaseLate(checkpointID, sourceID, handle)
		return
	}

	var post func()
	switch fold(pc) {
	case AckSuccess:
		observability.LogAck(c.logger, checkpointID, sourceID, pc.Remaining())
		if pc.IsFullyAcknowledged() {
			post = c.completeLocked(pc)
		}
	case AckDuplicate:
		// Same observable effect as the first delivery; the collected
		// handle stays, a differing redelivered one was released by the
		// fold.
	case AckUnknownSource:
		c.mu.Unlock()
		if c.logger != nil {
			c.logger.Warn("acknowledgment from unexpected source",
				slog.Int64("checkpoint_id", checkpointID),
				slog.String("source", sourceID),
			)
		}
		c.releaseLate(checkpointID, sourceID, handle)
		return
	case AckNotPending:
		c.mu.Unlock()
		observability.LogLateAck(c.logger, checkpointID, sourceID)
		c.releaseLate(checkpointID, sourceID, handle)
		return
	}
	c.mu.Unlock()
	if post != nil {
		post()
	}
}

// releaseLate discards the handle carried by an acknowledgment that was
// not folded in.
func (c *Coordinator) releaseLate(checkpointID int64, sourceID string, handle state.Handle) {
	if handle == nil {
		return
	}
	if err := handle.Discard(); err != nil {
		observability.LogHandleReleaseError(c.logger, checkpointID, sourceID, err)
	}
}

// DeclineCheckpoint aborts the named pending checkpoint on behalf of a
// task that cannot snapshot, without waiting for the deadline.
func (c *Coordinator) DeclineCheckpoint(checkpointID int64, taskID string, cause error) {
	observability.LogDecline(c.logger, checkpointID, taskID, cause)
	c.abortByID(checkpointID, sgerrors.NewCheckpointError(checkpointID, sgerrors.ReasonDeclined, cause).WithSource(taskID))
}

// acknowledgeCoordinator implements contextSink.
func (c *Coordinator) acknowledgeCoordinator(checkpointID int64, operatorID string, handle state.Handle) {
	c.AcknowledgeCoordinator(checkpointID, operatorID, handle)
}

// failCoordinatorSnapshot implements contextSink. A failed coordinator
// snapshot aborts the owning checkpoint, never the job.
func (c *Coordinator) failCoordinatorSnapshot(checkpointID int64, operatorID string, err error) {
	c.abortByID(checkpointID, sgerrors.NewCheckpointError(checkpointID, sgerrors.ReasonDeclined, err).WithSource(operatorID))
}

func (c *Coordinator) abortByID(checkpointID int64, cause error) {
	c.mu.Lock()
	pc, ok := c.pending[checkpointID]
	var post func()
	if ok {
		post = c.abortLocked(pc, cause)
	}
	c.mu.Unlock()
	if post != nil {
		post()
	}
}

// completeLocked finalizes a fully acknowledged checkpoint and commits
// it to the store. Durability is the commit point: a failed store write
// turns the attempt into a storage abort even though every party
// acknowledged. Returns the post-unlock notifications.
func (c *Coordinator) completeLocked(pc *PendingCheckpoint) func() {
	record, err := pc.Finalize()
	if err != nil {
		// Finalize on a fully acknowledged pending checkpoint cannot
		// fail; treat defensively as an abort.
		return c.abortLocked(pc, err)
	}

	if err := c.store.Add(record); err != nil {
		observability.LogStoreError(c.logger, "add", err)
		// The record now owns the handles; release them through it.
		delete(c.pending, pc.ID())
		cause := sgerrors.NewCheckpointError(pc.ID(), sgerrors.ReasonStorage, err)
		if derr := record.DiscardState(); derr != nil {
			observability.LogHandleReleaseError(c.logger, pc.ID(), "store", derr)
		}
		span := c.takeSpanLocked(pc.ID())
		contexts := append([]*OperatorContext(nil), c.contexts...)
		return func() {
			c.spans.EndSpanWithError(span, cause)
			c.metrics.RecordFailed(context.Background(), sgerrors.ReasonStorage.String())
			c.metrics.RecordInFlight(context.Background(), -1)
			observability.LogAborted(c.logger, pc.ID(), cause)
			for _, octx := range contexts {
				octx.notifyAborted(pc.ID())
			}
		}
	}

	delete(c.pending, pc.ID())
	span := c.takeSpanLocked(pc.ID())
	contexts := append([]*OperatorContext(nil), c.contexts...)

	discarded, serr := c.store.Subsume(c.cfg.Retained)
	if serr != nil {
		// Subsumption failures waste storage, nothing else.
		observability.LogStoreError(c.logger, "subsume", serr)
	}

	duration := record.CompleteTime.Sub(record.TriggerTime)
	size := record.StateSize()
	return func() {
		c.spans.EndSpanWithError(span, nil)
		c.metrics.RecordCompleted(context.Background(), duration, size)
		c.metrics.RecordInFlight(context.Background(), -1)
		observability.LogCompleted(c.logger, record.ID, float64(duration.Milliseconds()), size)
		if discarded > 0 {
			observability.LogSubsumed(c.logger, record.ID, discarded)
		}
		for _, octx := range contexts {
			octx.notifyComplete(record.ID)
		}
	}
}

// abortLocked transitions a pending checkpoint to Aborted and removes
// it from the table. Returns the post-unlock notifications.
func (c *Coordinator) abortLocked(pc *PendingCheckpoint, cause error) func() {
	if err := pc.Abort(cause); err != nil {
		observability.LogHandleReleaseError(c.logger, pc.ID(), "abort", err)
	}
	delete(c.pending, pc.ID())
	span := c.takeSpanLocked(pc.ID())
	contexts := append([]*OperatorContext(nil), c.contexts...)

	reason := sgerrors.ReasonDeclined
	var cpErr *sgerrors.CheckpointError
	if errors.As(cause, &cpErr) {
		reason = cpErr.Reason
	}

	return func() {
		c.spans.EndSpanWithError(span, cause)
		c.metrics.RecordFailed(context.Background(), reason.String())
		c.metrics.RecordInFlight(context.Background(), -1)
		observability.LogAborted(c.logger, pc.ID(), cause)
		for _, octx := range contexts {
			octx.notifyAborted(pc.ID())
		}
	}
}

func (c *Coordinator) takeSpanLocked(checkpointID int64) trace.Span {
	span := c.attemptSpans[checkpointID]
	delete(c.attemptSpans, checkpointID)
	return span
}

func (c *Coordinator) operatorIDsLocked() []string {
	ids := make([]string, 0, len(c.contexts))
	for _, octx := range c.contexts {
		ids = append(ids, octx.OperatorID())
	}
	return ids
}

func (c *Coordinator) pendingSnapshot() []*PendingCheckpoint {
	pcs := make([]*PendingCheckpoint, 0, len(c.pending))
	for _, pc := range c.pending {
		pcs = append(pcs, pc)
	}
	return pcs
}

// sweepLoop periodically aborts pending checkpoints whose deadline has
// passed. One tick per coordinator keeps scheduled callbacks bounded by
// the number of pending checkpoints, not acknowledgment slots.
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.EffectiveSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.SweepExpired(now)
		}
	}
}

// SweepExpired aborts every pending checkpoint whose deadline lies
// before now. Exposed for deterministic tests; the background sweep
// calls it on every tick.
func (c *Coordinator) SweepExpired(now time.Time) {
	c.mu.Lock()
	var posts []func()
	for _, pc := range c.pendingSnapshot() {
		if pc.Expired(now) {
			cause := sgerrors.NewCheckpointError(pc.ID(), sgerrors.ReasonExpired, context.DeadlineExceeded)
			posts = append(posts, c.abortLocked(pc, cause))
		}
	}
	c.mu.Unlock()
	for _, post := range posts {
		post()
	}
}

// triggerLoop periodically triggers checkpoints at the configured
// interval. Rejections are expected (a previous attempt may still be
// pending) and only logged.
func (c *Coordinator) triggerLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if _, err := c.TriggerCheckpoint(context.Background()); err != nil {
				if sgerrors.IsRejection(err) || errors.Is(err, ErrCoordinatorClosed) {
					continue
				}
				if c.logger != nil {
					c.logger.Warn("periodic checkpoint failed",
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// NumPending returns the number of in-flight checkpoint attempts.
func (c *Coordinator) NumPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingCheckpoints returns summaries of the in-flight attempts.
func (c *Coordinator) PendingCheckpoints() []Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Checkpoint, 0, len(c.pending))
	for _, pc := range c.pending {
		out = append(out, pc.Summary())
	}
	return out
}

// LatestCompletedID returns the highest completed checkpoint id, or 0.
func (c *Coordinator) LatestCompletedID() (int64, error) {
	return c.store.LatestID()
}
