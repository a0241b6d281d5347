// Package observability provides production-grade observability features
// for streamgraph: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds checkpoint context to a logger.
// Returns a new logger with job_id and checkpoint_id fields.
func EnrichLogger(logger *slog.Logger, jobID string, checkpointID int64) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("job_id", jobID),
		slog.Int64("checkpoint_id", checkpointID),
	)
}

// LogTriggerStart logs the start of a checkpoint attempt.
func LogTriggerStart(logger *slog.Logger, checkpointID int64, kind string, tasks, coordinators int) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint triggered",
		slog.Int64("checkpoint_id", checkpointID),
		slog.String("kind", kind),
		slog.Int("expected_tasks", tasks),
		slog.Int("expected_coordinators", coordinators),
	)
}

// LogTriggerRejected logs a rejected trigger. Rejection is throttling,
// not failure, so it logs at debug.
func LogTriggerRejected(logger *slog.Logger, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("checkpoint trigger rejected",
		slog.String("reason", reason),
	)
}

// LogAck logs a received acknowledgment.
func LogAck(logger *slog.Logger, checkpointID int64, source string, remaining int) {
	if logger == nil {
		return
	}
	logger.Debug("acknowledgment received",
		slog.Int64("checkpoint_id", checkpointID),
		slog.String("source", source),
		slog.Int("remaining", remaining),
	)
}

// LogLateAck logs an acknowledgment for a checkpoint that is no longer
// pending. Late acks are expected under timeouts and aborts.
func LogLateAck(logger *slog.Logger, checkpointID int64, source string) {
	if logger == nil {
		return
	}
	logger.Debug("ignoring acknowledgment for non-pending checkpoint",
		slog.Int64("checkpoint_id", checkpointID),
		slog.String("source", source),
	)
}

// LogDecline logs an explicit decline from a task.
func LogDecline(logger *slog.Logger, checkpointID int64, taskID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint declined",
		slog.Int64("checkpoint_id", checkpointID),
		slog.String("task_id", taskID),
		slog.String("error", errString(err)),
	)
}

// LogCompleted logs a successfully completed checkpoint.
func LogCompleted(logger *slog.Logger, checkpointID int64, durationMs float64, sizeBytes int64) {
	if logger == nil {
		return
	}
	logger.Info("checkpoint completed",
		slog.Int64("checkpoint_id", checkpointID),
		slog.Float64("duration_ms", durationMs),
		slog.Int64("size_bytes", sizeBytes),
	)
}

// LogAborted logs an aborted checkpoint attempt.
func LogAborted(logger *slog.Logger, checkpointID int64, cause error) {
	if logger == nil {
		return
	}
	logger.Warn("checkpoint aborted",
		slog.Int64("checkpoint_id", checkpointID),
		slog.String("cause", errString(cause)),
	)
}

// LogSubsumed logs the discard of superseded completed checkpoints.
func LogSubsumed(logger *slog.Logger, newestID int64, discarded int) {
	if logger == nil {
		return
	}
	logger.Debug("subsumed completed checkpoints",
		slog.Int64("newest_id", newestID),
		slog.Int("discarded", discarded),
	)
}

// LogStoreError logs a store failure (non-fatal for subsumption,
// finalize-failing for adds).
func LogStoreError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Error("checkpoint store operation failed",
		slog.String("operation", op),
		slog.String("error", errString(err)),
	)
}

// LogHandleReleaseError logs a failed state-handle release. Stale
// snapshots waste storage but do not affect correctness.
func LogHandleReleaseError(logger *slog.Logger, checkpointID int64, source string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("state handle release failed",
		slog.Int64("checkpoint_id", checkpointID),
		slog.String("source", source),
		slog.String("error", errString(err)),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
