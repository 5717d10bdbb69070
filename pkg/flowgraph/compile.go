package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. Multiple errors are joined together.
//
// Validation checks (in order):
//  1. Entry point must be set
//  2. Entry point must reference an existing node
//  3. All edge sources must reference existing nodes
//  4. All edge and declared router targets must reference existing nodes or END
//  5. Every node has exactly one outgoing edge, simple or conditional
//  6. A path to END exists from the entry point
//
// Unreachable nodes (not reachable from entry) are logged as warnings
// but do not cause compilation to fail.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range sortedKeys(g.edges) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.edges[from] {
			if to != END && g.nodes[to] == nil {
				errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, from := range sortedKeys(g.routes) {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		for _, to := range g.routes[from].targets {
			if to != END && g.nodes[to] == nil {
				errs = append(errs, fmt.Errorf("%w: router target '%s' does not exist", ErrNodeNotFound, to))
			}
		}
	}

	for _, id := range g.order {
		_, conditional := g.routes[id]
		simple := len(g.edges[id])
		switch {
		case conditional && simple > 0:
			errs = append(errs, fmt.Errorf("%w: %s", ErrConflictingEdges, id))
		case simple > 1:
			errs = append(errs, fmt.Errorf("%w: %s has %d", ErrMultipleEdges, id, simple))
		case !conditional && simple == 0:
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
		}
	}

	if g.entryPoint != "" && g.nodes[g.entryPoint] != nil && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachableNodes()

	return g.buildCompiledGraph(), nil
}

// targetsOf returns the possible successors of id. ok is false for a
// router without declared targets, which may go anywhere.
func (g *Graph[S]) targetsOf(id string) (targets []string, ok bool) {
	if r, conditional := g.routes[id]; conditional {
		if len(r.targets) == 0 {
			return nil, false
		}
		return r.targets, true
	}
	return g.edges[id], true
}

// hasPathToEnd checks if there's a path from entry to END by reverse
// propagation. A router without declared targets is assumed to reach END.
func (g *Graph[S]) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for _, id := range g.order {
			if canReachEnd[id] {
				continue
			}
			targets, known := g.targetsOf(id)
			if !known {
				canReachEnd[id] = true
				changed = true
				continue
			}
			for _, to := range targets {
				if canReachEnd[to] {
					canReachEnd[id] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// warnUnreachableNodes logs warnings for nodes not reachable from entry.
func (g *Graph[S]) warnUnreachableNodes() {
	reachable := g.findReachableNodes()
	for _, id := range g.order {
		if !reachable[id] {
			slog.Warn("node is unreachable from entry", "node_id", id)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry point.
func (g *Graph[S]) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	if g.entryPoint == "" {
		return reachable
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		targets, known := g.targetsOf(current)
		if !known {
			// The router may return any node.
			targets = g.order
		}
		for _, next := range targets {
			if next != END && !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the builder state.
func (g *Graph[S]) buildCompiledGraph() *CompiledGraph[S] {
	nodes := make(map[string]NodeFunc[S], len(g.nodes))
	for id, fn := range g.nodes {
		nodes[id] = fn
	}

	next := make(map[string]string, len(g.edges))
	for from, targets := range g.edges {
		next[from] = targets[0]
	}

	routes := make(map[string]route[S], len(g.routes))
	successors := make(map[string][]string, len(g.nodes))
	predecessors := make(map[string][]string)
	for _, id := range g.order {
		if r, ok := g.routes[id]; ok {
			routes[id] = route[S]{router: r.router, targets: slices.Clone(r.targets)}
		}
		targets, _ := g.targetsOf(id)
		successors[id] = slices.Clone(targets)
		for _, to := range targets {
			if to != END {
				predecessors[to] = append(predecessors[to], id)
			}
		}
	}

	return &CompiledGraph[S]{
		nodes:        nodes,
		order:        slices.Clone(g.order),
		next:         next,
		routes:       routes,
		entryPoint:   g.entryPoint,
		successors:   successors,
		predecessors: predecessors,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
