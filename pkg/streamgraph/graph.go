package streamgraph

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/checkpoint"
)

// vertex is the builder-side description of one operator vertex.
type vertex struct {
	id          string
	parallelism int
	source      bool
}

// JobGraph is a mutable builder for streaming job topologies.
// Use NewJobGraph to create a graph, then chain AddSource, AddVertex,
// AddEdge, and WithCoordinator calls to define the dataflow.
//
// JobGraph is NOT thread-safe during building. Construct it from a
// single goroutine, then call Compile() to create an immutable
// ExecutionPlan that can be safely shared.
type JobGraph struct {
	jobID          string
	vertices       map[string]*vertex
	order          []string
	edges          map[string][]string
	coordinators   map[string]checkpoint.OperatorCoordinator
	maxParallelism map[string]int
}

// NewJobGraph creates a new job graph builder.
//
// Panics if jobID is empty.
func NewJobGraph(jobID string) *JobGraph {
	if jobID == "" {
		panic("streamgraph: job ID cannot be empty")
	}
	return &JobGraph{
		jobID:          jobID,
		vertices:       make(map[string]*vertex),
		edges:          make(map[string][]string),
		coordinators:   make(map[string]checkpoint.OperatorCoordinator),
		maxParallelism: make(map[string]int),
	}
}

// AddSource adds a source vertex: barriers for a checkpoint are
// injected at every subtask of every source vertex.
// Returns the graph for method chaining.
//
// Panics under the same conditions as AddVertex.
func (g *JobGraph) AddSource(id string, parallelism int) *JobGraph {
	g.add(id, parallelism, true)
	return g
}

// AddVertex adds a non-source operator vertex.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty or contains whitespace
//   - parallelism < 1
//   - id already exists in the graph
func (g *JobGraph) AddVertex(id string, parallelism int) *JobGraph {
	g.add(id, parallelism, false)
	return g
}

func (g *JobGraph) add(id string, parallelism int, source bool) {
	if id == "" {
		panic("streamgraph: vertex ID cannot be empty")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("streamgraph: vertex ID cannot contain whitespace")
	}
	if parallelism < 1 {
		panic(fmt.Sprintf("streamgraph: vertex %s parallelism must be >= 1", id))
	}

	if _, exists := g.vertices[id]; exists {
		panic(fmt.Sprintf("streamgraph: duplicate vertex ID: %s", id))
	}
	g.vertices[id] = &vertex{
		id:          id,
		parallelism: parallelism,
		source:      source,
	}
	g.order = append(g.order, id)
}

// AddEdge adds a directed dataflow edge between two vertices.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here, so edges may be
// added in any order relative to their vertices.
func (g *JobGraph) AddEdge(from, to string) *JobGraph {
	g.edges[from] = append(g.edges[from], to)
	return g
}

// WithCoordinator attaches an operator coordinator to a vertex. The
// coordinator participates in every checkpoint as one acknowledgment
// slot keyed by the vertex id.
// Returns the graph for method chaining.
//
// Panics if oc is nil. Vertex existence is validated at Compile() time.
func (g *JobGraph) WithCoordinator(vertexID string, oc checkpoint.OperatorCoordinator) *JobGraph {
	if oc == nil {
		panic("streamgraph: operator coordinator cannot be nil")
	}
	g.coordinators[vertexID] = oc
	return g
}

// WithMaxParallelism sets a vertex's key-group ceiling. Defaults to the
// vertex's parallelism. Validated at Compile() time.
// Returns the graph for method chaining.
func (g *JobGraph) WithMaxParallelism(vertexID string, max int) *JobGraph {
	g.maxParallelism[vertexID] = max
	return g
}
