package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler captures log records for testing.
type testHandler struct {
	buf   *bytes.Buffer
	level slog.Level
	attrs []slog.Attr
}

func newTestHandler() *testHandler {
	return &testHandler{
		buf:   &bytes.Buffer{},
		level: slog.LevelDebug,
	}
}

func (h *testHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *testHandler) Handle(_ context.Context, r slog.Record) error {
	data := map[string]any{
		"level": r.Level.String(),
		"msg":   r.Message,
	}
	for _, attr := range h.attrs {
		data[attr.Key] = attr.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})
	return json.NewEncoder(h.buf).Encode(data)
}

func (h *testHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newH := &testHandler{
		buf:   h.buf,
		level: h.level,
		attrs: make([]slog.Attr, len(h.attrs)+len(attrs)),
	}
	copy(newH.attrs, h.attrs)
	copy(newH.attrs[len(h.attrs):], attrs)
	return newH
}

func (h *testHandler) WithGroup(string) slog.Handler { return h }

// records decodes every captured log line.
func (h *testHandler) records(t *testing.T) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(h.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &data))
		out = append(out, data)
	}
	return out
}

// TestNilLoggerSafety verifies every helper tolerates a nil logger.
func TestNilLoggerSafety(t *testing.T) {
	assert.NotPanics(t, func() {
		assert.Nil(t, EnrichLogger(nil, "job-1", 1))
		LogTriggerStart(nil, 1, "full", 3, 1)
		LogTriggerRejected(nil, "concurrent limit")
		LogAck(nil, 1, "map-0", 2)
		LogLateAck(nil, 1, "map-0")
		LogDecline(nil, 1, "map-0", errors.New("boom"))
		LogCompleted(nil, 1, 12.5, 1024)
		LogAborted(nil, 1, errors.New("expired"))
		LogSubsumed(nil, 3, 2)
		LogStoreError(nil, "add", errors.New("disk full"))
		LogHandleReleaseError(nil, 1, "map-0", errors.New("delete failed"))
	})
}

// TestEnrichLogger verifies the job and checkpoint fields are attached.
func TestEnrichLogger(t *testing.T) {
	h := newTestHandler()
	logger := EnrichLogger(slog.New(h), "job-1", 7)
	require.NotNil(t, logger)

	logger.Info("hello")

	recs := h.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, "job-1", recs[0]["job_id"])
	assert.Equal(t, float64(7), recs[0]["checkpoint_id"])
}

// TestLogLevels verifies the level split: lifecycle at info, routine
// protocol chatter at debug, trouble at warn or error.
func TestLogLevels(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogTriggerStart(logger, 1, "full", 3, 1)
	LogTriggerRejected(logger, "min pause")
	LogAck(logger, 1, "map-0", 2)
	LogLateAck(logger, 1, "map-1")
	LogDecline(logger, 1, "map-2", errors.New("cannot snapshot"))
	LogCompleted(logger, 1, 42.0, 2048)
	LogAborted(logger, 2, errors.New("expired"))
	LogSubsumed(logger, 3, 1)
	LogStoreError(logger, "add", errors.New("disk full"))
	LogHandleReleaseError(logger, 2, "map-0", errors.New("delete failed"))

	recs := h.records(t)
	require.Len(t, recs, 10)
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.Equal(t, "DEBUG", recs[1]["level"])
	assert.Equal(t, "DEBUG", recs[2]["level"])
	assert.Equal(t, "DEBUG", recs[3]["level"])
	assert.Equal(t, "WARN", recs[4]["level"])
	assert.Equal(t, "INFO", recs[5]["level"])
	assert.Equal(t, "WARN", recs[6]["level"])
	assert.Equal(t, "DEBUG", recs[7]["level"])
	assert.Equal(t, "ERROR", recs[8]["level"])
	assert.Equal(t, "WARN", recs[9]["level"])
}

// TestLogFields spot-checks structured fields on the protocol events.
func TestLogFields(t *testing.T) {
	h := newTestHandler()
	logger := slog.New(h)

	LogAck(logger, 5, "map-0", 2)
	LogCompleted(logger, 5, 33.0, 4096)

	recs := h.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, float64(5), recs[0]["checkpoint_id"])
	assert.Equal(t, "map-0", recs[0]["source"])
	assert.Equal(t, float64(2), recs[0]["remaining"])
	assert.Equal(t, float64(4096), recs[1]["size_bytes"])
}
