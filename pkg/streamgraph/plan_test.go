package streamgraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/checkpoint"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/config"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/task"
)

func testGraph() *JobGraph {
	return NewJobGraph("orders").
		AddSource("ingest", 2).
		AddVertex("enrich", 2).
		AddVertex("sink", 1).
		AddEdge("ingest", "enrich").
		AddEdge("enrich", "sink")
}

// TestCompile_ExpandsSubtasks verifies vertex expansion into
// acknowledgment slots.
func TestCompile_ExpandsSubtasks(t *testing.T) {
	plan, err := testGraph().
		WithCoordinator("ingest", nopOperator{}).
		WithMaxParallelism("ingest", 128).
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "orders", plan.JobID())
	assert.Equal(t, []string{"ingest-0", "ingest-1"}, plan.SourceIDs())
	assert.Equal(t, []string{"enrich-0", "enrich-1", "sink-0"}, plan.TaskIDs())

	regs := plan.Registrations()
	require.Len(t, regs, 1)
	assert.Equal(t, "ingest", regs[0].Info.OperatorID)
	assert.Equal(t, 128, regs[0].Info.MaxParallelism)
	assert.Equal(t, 2, regs[0].Info.Parallelism)
}

// TestCompile_NoSources verifies a graph without sources is rejected.
func TestCompile_NoSources(t *testing.T) {
	_, err := NewJobGraph("orders").
		AddVertex("enrich", 1).
		Compile()
	assert.ErrorIs(t, err, ErrNoSources)
}

// TestCompile_UnknownEdgeVertices verifies edge validation.
func TestCompile_UnknownEdgeVertices(t *testing.T) {
	_, err := NewJobGraph("orders").
		AddSource("ingest", 1).
		AddEdge("ingest", "ghost").
		AddEdge("phantom", "ingest").
		Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVertexNotFound)
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "phantom")
}

// TestCompile_DanglingRegistrations verifies coordinator and
// max-parallelism references are validated.
func TestCompile_DanglingRegistrations(t *testing.T) {
	_, err := NewJobGraph("orders").
		AddSource("ingest", 1).
		WithCoordinator("ghost", nopOperator{}).
		Compile()
	assert.ErrorIs(t, err, ErrVertexNotFound)

	_, err = NewJobGraph("orders").
		AddSource("ingest", 4).
		WithMaxParallelism("ingest", 2).
		Compile()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max parallelism 2 below parallelism 4")
}

// TestCompile_Cycle verifies cyclic graphs are rejected.
func TestCompile_Cycle(t *testing.T) {
	_, err := NewJobGraph("orders").
		AddSource("ingest", 1).
		AddVertex("a", 1).
		AddVertex("b", 1).
		AddEdge("ingest", "a").
		AddEdge("a", "b").
		AddEdge("b", "a").
		Compile()
	assert.ErrorIs(t, err, ErrCycle)
}

// TestCompile_UnreachableVertex verifies vertices no barrier can reach
// are rejected.
func TestCompile_UnreachableVertex(t *testing.T) {
	_, err := NewJobGraph("orders").
		AddSource("ingest", 1).
		AddVertex("orphan", 1).
		Compile()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachableVertex)
	assert.Contains(t, err.Error(), "orphan")
}

// planSource implements task.SourceTask for plan assembly tests.
type planSource struct {
	id string
	mu sync.Mutex
	n  int
}

func (s *planSource) ID() string { return s.id }

func (s *planSource) TriggerBarrier(context.Context, task.Barrier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

func (s *planSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// TestExecutionPlan_NewCoordinator assembles a coordinator from a plan
// and runs one checkpoint through it end to end.
func TestExecutionPlan_NewCoordinator(t *testing.T) {
	plan, err := testGraph().
		WithCoordinator("ingest", nopOperator{}).
		Compile()
	require.NoError(t, err)

	sources := map[string]task.SourceTask{
		"ingest-0": &planSource{id: "ingest-0"},
		"ingest-1": &planSource{id: "ingest-1"},
	}
	cfg := config.Default()
	cfg.Timeout = 5 * time.Second
	store := checkpoint.NewMemoryStore()

	coord, err := plan.NewCoordinator(cfg, checkpoint.NewMemoryCounter(0), store, sources)
	require.NoError(t, err)
	defer coord.Close()

	id, err := coord.TriggerCheckpoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sources["ingest-0"].(*planSource).count())
	assert.Equal(t, 1, sources["ingest-1"].(*planSource).count())

	for _, taskID := range append(plan.SourceIDs(), plan.TaskIDs()...) {
		coord.AcknowledgeTask(id, taskID, nil)
	}

	require.Eventually(t, func() bool { return store.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
}

// TestExecutionPlan_NewCoordinator_MissingSource verifies assembly
// fails when a source subtask has no task implementation.
func TestExecutionPlan_NewCoordinator_MissingSource(t *testing.T) {
	plan, err := testGraph().Compile()
	require.NoError(t, err)

	sources := map[string]task.SourceTask{
		"ingest-0": &planSource{id: "ingest-0"},
	}
	_, err = plan.NewCoordinator(config.Default(), checkpoint.NewMemoryCounter(0), checkpoint.NewMemoryStore(), sources)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSourceTask)
	assert.Contains(t, err.Error(), "ingest-1")
}
