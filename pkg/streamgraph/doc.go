// Package streamgraph provides a builder for streaming dataflow job
// graphs and wires compiled graphs to the checkpoint coordination
// machinery in the checkpoint subpackage.
//
// A JobGraph describes operator vertices and the edges between them.
// Compile validates the topology and produces an immutable
// ExecutionPlan, which expands vertices into per-subtask
// acknowledgment slots and carries the operator-coordinator
// registrations. ExecutionPlan.NewCoordinator assembles a ready
// checkpoint.Coordinator for the plan.
//
// Example:
//
//	graph := streamgraph.NewJobGraph("orders").
//	    AddSource("ingest", 2).
//	    AddVertex("enrich", 4).
//	    AddVertex("sink", 1).
//	    AddEdge("ingest", "enrich").
//	    AddEdge("enrich", "sink")
//
//	plan, err := graph.Compile()
package streamgraph
