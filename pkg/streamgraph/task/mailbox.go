package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/state"
)

// Envelope is one queued task message. Exactly one of Ack or Decline is
// set.
type Envelope struct {
	// ID uniquely identifies the message for logging and deduplication
	// downstream.
	ID string

	// SentAt is when the message was enqueued.
	SentAt time.Time

	Ack     *Ack
	Decline *Decline
}

// Mailbox queues task messages for the coordinator. Many task
// goroutines enqueue concurrently; a single Pump applies them in
// arrival order, funneling everything through the coordinator's
// single-writer boundary.
type Mailbox struct {
	ch     chan Envelope
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewMailbox creates a mailbox with the given buffer size.
// A buffer of 0 uses a default sized for a mid-size job.
func NewMailbox(buffer int) *Mailbox {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Mailbox{
		ch:   make(chan Envelope, buffer),
		done: make(chan struct{}),
	}
}

// WithLogger sets the logger for dropped-message warnings.
func (m *Mailbox) WithLogger(logger *slog.Logger) *Mailbox {
	m.logger = logger
	return m
}

// Responder returns the fire-and-forget sender handed to one task.
func (m *Mailbox) Responder(taskID string) *Responder {
	return &Responder{taskID: taskID, box: m}
}

// enqueue delivers an envelope without blocking the task. Messages sent
// after Close, or while the buffer is full, are dropped: the protocol
// tolerates lost acknowledgments (the checkpoint times out) so dropping
// beats blocking a data-plane thread.
func (m *Mailbox) enqueue(env Envelope) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.ch <- env:
	default:
		if m.logger != nil {
			m.logger.Warn("mailbox full, dropping task message",
				slog.String("message_id", env.ID),
			)
		}
	}
}

// Pump applies queued messages to the sink until the context is done or
// the mailbox is closed. Run it from exactly one goroutine.
func (m *Mailbox) Pump(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case env := <-m.ch:
			m.apply(env, sink)
		}
	}
}

// Drain applies all currently queued messages synchronously.
// Useful in tests and single-threaded harnesses.
func (m *Mailbox) Drain(sink Sink) {
	for {
		select {
		case env := <-m.ch:
			m.apply(env, sink)
		default:
			return
		}
	}
}

func (m *Mailbox) apply(env Envelope, sink Sink) {
	switch {
	case env.Ack != nil:
		sink.AcknowledgeTask(env.Ack.CheckpointID, env.Ack.TaskID, env.Ack.Handle)
	case env.Decline != nil:
		sink.DeclineCheckpoint(env.Decline.CheckpointID, env.Decline.TaskID, env.Decline.Cause)
	}
}

// Close stops delivery. Pending messages are discarded. Safe to call
// more than once.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

// Responder is the sender a task runtime uses to report checkpoint
// results back to the coordinator. Safe for concurrent use.
type Responder struct {
	taskID string
	box    *Mailbox
}

// TaskID returns the subtask this responder reports for.
func (r *Responder) TaskID() string { return r.taskID }

// Acknowledge reports a finished snapshot for the named checkpoint.
func (r *Responder) Acknowledge(checkpointID int64, handle state.Handle) {
	r.box.enqueue(Envelope{
		ID:     fmt.Sprintf("ack-%s", uuid.New().String()[:8]),
		SentAt: time.Now(),
		Ack: &Ack{
			CheckpointID: checkpointID,
			TaskID:       r.taskID,
			Handle:       handle,
			Timestamp:    time.Now(),
		},
	})
}

// Decline reports that the task cannot snapshot for the named
// checkpoint.
func (r *Responder) Decline(checkpointID int64, cause error) {
	r.box.enqueue(Envelope{
		ID:     fmt.Sprintf("dec-%s", uuid.New().String()[:8]),
		SentAt: time.Now(),
		Decline: &Decline{
			CheckpointID: checkpointID,
			TaskID:       r.taskID,
			Cause:        cause,
			Timestamp:    time.Now(),
		},
	})
}
