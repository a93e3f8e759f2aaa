package task

import (
	"errors"
	"fmt"
)

// ErrCycle indicates a circular dependency in the subtask graph.
var ErrCycle = errors.New("circular dependency detected")

// Graph is a directed acyclic graph of subtask dependencies. Edges point
// from a subtask to the subtasks it depends on.
type Graph struct {
	nodes map[string]*SubTask
	edges map[string][]string
	order []string
}

// NewGraph builds and validates a graph from subtasks. It fails on
// unknown dependency references and on cycles, before any subtask is
// dispatched.
func NewGraph(subtasks []*SubTask) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]*SubTask, len(subtasks)),
		edges: make(map[string][]string, len(subtasks)),
	}

	for _, st := range subtasks {
		g.nodes[st.ID] = st
		g.edges[st.ID] = nil
		g.order = append(g.order, st.ID)
	}

	for _, st := range subtasks {
		for _, depID := range st.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, depID)
			}
			g.edges[st.ID] = append(g.edges[st.ID], depID)
		}
	}

	if g.hasCycle() {
		return nil, ErrCycle
	}
	return g, nil
}

// hasCycle uses depth-first search with coloring to detect back edges.
func (g *Graph) hasCycle() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalOrder returns subtask IDs with every dependency before its
// dependents. Order is deterministic given the decomposition order.
func (g *Graph) TopologicalOrder() []string {
	visited := make(map[string]bool, len(g.nodes))
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, depID := range g.edges[id] {
			visit(depID)
		}
		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}
	return result
}

// Ready returns subtasks that are pending and whose dependencies are all
// completed. These can run in parallel.
func (g *Graph) Ready() []*SubTask {
	var ready []*SubTask
	for _, id := range g.order {
		st := g.nodes[id]
		if st.Status != StatusPending && st.Status != StatusReady {
			continue
		}

		allDone := true
		for _, depID := range g.edges[id] {
			if g.nodes[depID].Status != StatusCompleted {
				allDone = false
				break
			}
		}
		if allDone {
			ready = append(ready, st)
		}
	}
	return ready
}

// Dependencies returns the subtasks the given subtask depends on, in
// declaration order.
func (g *Graph) Dependencies(id string) []*SubTask {
	deps := make([]*SubTask, 0, len(g.edges[id]))
	for _, depID := range g.edges[id] {
		deps = append(deps, g.nodes[depID])
	}
	return deps
}

// Dependents returns the IDs of subtasks that depend on the given one,
// directly only.
func (g *Graph) Dependents(id string) []string {
	var dependents []string
	for _, candidate := range g.order {
		for _, depID := range g.edges[candidate] {
			if depID == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// Get returns the subtask for an ID, or nil.
func (g *Graph) Get(id string) *SubTask {
	return g.nodes[id]
}

// Size returns the number of subtasks in the graph.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Done reports whether every subtask is in a terminal state.
func (g *Graph) Done() bool {
	for _, st := range g.nodes {
		if !st.Status.Terminal() {
			return false
		}
	}
	return true
}
