package streamgraph

import "errors"

// Sentinel errors for graph building and compilation.
var (
	// ErrNoSources indicates the graph has no source vertex.
	ErrNoSources = errors.New("job graph has no source vertex")

	// ErrVertexNotFound indicates an edge or registration references a
	// vertex that was never added.
	ErrVertexNotFound = errors.New("vertex not found")

	// ErrCycle indicates the graph contains a cycle.
	ErrCycle = errors.New("job graph contains a cycle")

	// ErrUnreachableVertex indicates a non-source vertex no source can
	// reach; barriers would never arrive at it.
	ErrUnreachableVertex = errors.New("vertex unreachable from any source")

	// ErrMissingSourceTask indicates coordinator assembly was given no
	// task for a source subtask the plan expects.
	ErrMissingSourceTask = errors.New("no task registered for source subtask")
)
