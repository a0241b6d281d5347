package streamgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/checkpoint"
)

// nopOperator is a minimal OperatorCoordinator for builder tests.
type nopOperator struct{}

func (nopOperator) Checkpoint(_ context.Context, _ int64, result *checkpoint.SnapshotFuture) error {
	result.Complete(nil)
	return nil
}
func (nopOperator) NotifyCheckpointComplete(int64) {}
func (nopOperator) NotifyCheckpointAborted(int64)  {}

// TestNewJobGraph verifies basic graph creation.
func TestNewJobGraph(t *testing.T) {
	graph := NewJobGraph("orders")
	assert.NotNil(t, graph)
	assert.Equal(t, "orders", graph.jobID)
	assert.Empty(t, graph.vertices)
}

// TestNewJobGraph_EmptyJobID_Panics tests that an empty job ID panics.
func TestNewJobGraph_EmptyJobID_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "streamgraph: job ID cannot be empty", func() {
		NewJobGraph("")
	})
}

// TestJobGraph_AddVertex tests successful vertex addition.
func TestJobGraph_AddVertex(t *testing.T) {
	graph := NewJobGraph("orders").
		AddSource("ingest", 2).
		AddVertex("enrich", 4)

	assert.Len(t, graph.vertices, 2)
	assert.True(t, graph.vertices["ingest"].source)
	assert.False(t, graph.vertices["enrich"].source)
	assert.Equal(t, 4, graph.vertices["enrich"].parallelism)
}

// TestJobGraph_AddVertex_Chaining tests fluent API chaining.
func TestJobGraph_AddVertex_Chaining(t *testing.T) {
	graph := NewJobGraph("orders")
	result := graph.AddVertex("enrich", 1)
	assert.Same(t, graph, result)
}

// TestJobGraph_AddVertex_EmptyID_Panics tests that an empty vertex ID panics.
func TestJobGraph_AddVertex_EmptyID_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "streamgraph: vertex ID cannot be empty", func() {
		NewJobGraph("orders").AddVertex("", 1)
	})
}

// TestJobGraph_AddVertex_WhitespaceID_Panics tests that IDs with whitespace panic.
func TestJobGraph_AddVertex_WhitespaceID_Panics(t *testing.T) {
	testCases := []struct {
		name string
		id   string
	}{
		{"space", "my vertex"},
		{"tab", "my\tvertex"},
		{"newline", "my\nvertex"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.PanicsWithValue(t, "streamgraph: vertex ID cannot contain whitespace", func() {
				NewJobGraph("orders").AddVertex(tc.id, 1)
			})
		})
	}
}

// TestJobGraph_AddVertex_InvalidParallelism_Panics tests the parallelism bound.
func TestJobGraph_AddVertex_InvalidParallelism_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "streamgraph: vertex enrich parallelism must be >= 1", func() {
		NewJobGraph("orders").AddVertex("enrich", 0)
	})
}

// TestJobGraph_AddVertex_DuplicateID_Panics tests that duplicate IDs panic.
func TestJobGraph_AddVertex_DuplicateID_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "streamgraph: duplicate vertex ID: enrich", func() {
		NewJobGraph("orders").
			AddVertex("enrich", 1).
			AddSource("enrich", 1)
	})
}

// TestJobGraph_WithCoordinator_Nil_Panics tests that a nil coordinator panics.
func TestJobGraph_WithCoordinator_Nil_Panics(t *testing.T) {
	assert.PanicsWithValue(t, "streamgraph: operator coordinator cannot be nil", func() {
		NewJobGraph("orders").AddSource("ingest", 1).WithCoordinator("ingest", nil)
	})
}
