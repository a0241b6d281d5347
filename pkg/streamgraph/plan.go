package streamgraph

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/streamgraph/pkg/streamgraph/checkpoint"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/config"
	"github.com/randalmurphal/streamgraph/pkg/streamgraph/task"
)

// CoordinatorRegistration pairs a coordinated operator's identity with
// its coordinator implementation.
type CoordinatorRegistration struct {
	Info        checkpoint.OperatorInfo
	Coordinator checkpoint.OperatorCoordinator
}

// ExecutionPlan is the immutable, validated form of a JobGraph. It
// expands every vertex into per-subtask acknowledgment slots ("id-0",
// "id-1", ...) and carries the operator-coordinator registrations.
type ExecutionPlan struct {
	jobID         string
	sourceIDs     []string
	taskIDs       []string
	registrations []CoordinatorRegistration
}

// Compile validates the graph and creates an ExecutionPlan.
// Returns an error if validation fails. Multiple errors are joined.
//
// Validation checks (in order):
//  1. At least one source vertex exists
//  2. All edges reference existing vertices
//  3. Coordinator and max-parallelism registrations reference existing
//     vertices; max parallelism is not below parallelism
//  4. The graph is acyclic
//  5. Every non-source vertex is reachable from a source
func (g *JobGraph) Compile() (*ExecutionPlan, error) {
	var errs []error

	hasSource := false
	for _, v := range g.vertices {
		if v.source {
			hasSource = true
			break
		}
	}
	if !hasSource {
		errs = append(errs, ErrNoSources)
	}

	for from, targets := range g.edges {
		if _, ok := g.vertices[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge source '%s'", ErrVertexNotFound, from))
		}
		for _, to := range targets {
			if _, ok := g.vertices[to]; !ok {
				errs = append(errs, fmt.Errorf("%w: edge target '%s'", ErrVertexNotFound, to))
			}
		}
	}

	for id := range g.coordinators {
		if _, ok := g.vertices[id]; !ok {
			errs = append(errs, fmt.Errorf("%w: coordinator for '%s'", ErrVertexNotFound, id))
		}
	}
	for id, max := range g.maxParallelism {
		v, ok := g.vertices[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: max parallelism for '%s'", ErrVertexNotFound, id))
			continue
		}
		if max < v.parallelism {
			errs = append(errs, fmt.Errorf("vertex %s: max parallelism %d below parallelism %d", id, max, v.parallelism))
		}
	}

	if len(errs) == 0 {
		if cyclic := g.findCycle(); cyclic != "" {
			errs = append(errs, fmt.Errorf("%w: through '%s'", ErrCycle, cyclic))
		}
		for _, id := range g.unreachableVertices() {
			errs = append(errs, fmt.Errorf("%w: '%s'", ErrUnreachableVertex, id))
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g.buildPlan(), nil
}

// findCycle returns a vertex on a cycle, or "" when the graph is
// acyclic. Kahn's algorithm: any vertex never reaching in-degree zero
// sits on a cycle.
func (g *JobGraph) findCycle() string {
	indegree := make(map[string]int, len(g.vertices))
	for id := range g.vertices {
		indegree[id] = 0
	}
	for _, targets := range g.edges {
		for _, to := range targets {
			indegree[to]++
		}
	}

	var queue []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	removed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		removed++
		for _, to := range g.edges[current] {
			indegree[to]--
			if indegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if removed == len(g.vertices) {
		return ""
	}
	for _, id := range g.order {
		if indegree[id] > 0 {
			return id
		}
	}
	return ""
}

// unreachableVertices returns non-source vertices no source can reach,
// in insertion order. A barrier would never arrive at such a vertex,
// so its checkpoint slot could never fill.
func (g *JobGraph) unreachableVertices() []string {
	reachable := make(map[string]bool)
	var queue []string
	for _, id := range g.order {
		if g.vertices[id].source {
			reachable[id] = true
			queue = append(queue, id)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, to := range g.edges[current] {
			if !reachable[to] {
				reachable[to] = true
				queue = append(queue, to)
			}
		}
	}

	var unreachable []string
	for _, id := range g.order {
		if !reachable[id] {
			unreachable = append(unreachable, id)
		}
	}
	return unreachable
}

// buildPlan creates the immutable ExecutionPlan from the builder state.
func (g *JobGraph) buildPlan() *ExecutionPlan {
	plan := &ExecutionPlan{jobID: g.jobID}

	for _, id := range g.order {
		v := g.vertices[id]
		for i := 0; i < v.parallelism; i++ {
			subtask := fmt.Sprintf("%s-%d", id, i)
			if v.source {
				plan.sourceIDs = append(plan.sourceIDs, subtask)
			} else {
				plan.taskIDs = append(plan.taskIDs, subtask)
			}
		}

		if oc, ok := g.coordinators[id]; ok {
			max := v.parallelism
			if m, ok := g.maxParallelism[id]; ok {
				max = m
			}
			plan.registrations = append(plan.registrations, CoordinatorRegistration{
				Info: checkpoint.OperatorInfo{
					OperatorID:     id,
					MaxParallelism: max,
					Parallelism:    v.parallelism,
				},
				Coordinator: oc,
			})
		}
	}
	return plan
}

// JobID returns the job identifier.
func (p *ExecutionPlan) JobID() string { return p.jobID }

// SourceIDs returns the source subtask ids, in vertex insertion order.
func (p *ExecutionPlan) SourceIDs() []string {
	return append([]string(nil), p.sourceIDs...)
}

// TaskIDs returns the non-source subtask ids, in vertex insertion order.
func (p *ExecutionPlan) TaskIDs() []string {
	return append([]string(nil), p.taskIDs...)
}

// Registrations returns the operator-coordinator registrations.
func (p *ExecutionPlan) Registrations() []CoordinatorRegistration {
	return append([]CoordinatorRegistration(nil), p.registrations...)
}

// NewCoordinator assembles a checkpoint coordinator for this plan.
// The sources map must contain one task.SourceTask per source subtask
// id; every other subtask becomes an acknowledgment slot whose barriers
// flow through the dataflow. The coordinator is returned unstarted.
func (p *ExecutionPlan) NewCoordinator(cfg config.Config, counter checkpoint.IDCounter, store checkpoint.CompletedStore, sources map[string]task.SourceTask, opts ...checkpoint.Option) (*checkpoint.Coordinator, error) {
	for _, id := range p.sourceIDs {
		if _, ok := sources[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSourceTask, id)
		}
	}

	coord, err := checkpoint.NewCoordinator(p.jobID, cfg, counter, store, opts...)
	if err != nil {
		return nil, err
	}
	for _, id := range p.sourceIDs {
		coord.RegisterSource(sources[id])
	}
	for _, id := range p.taskIDs {
		coord.RegisterTask(id)
	}
	for _, reg := range p.registrations {
		coord.RegisterOperator(reg.Info, reg.Coordinator)
	}
	return coord, nil
}
