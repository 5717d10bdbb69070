package flowgraph

import "slices"

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can be used concurrently for multiple
// Run() calls. The graph structure cannot be modified after compilation.
type CompiledGraph[S any] struct {
	nodes      map[string]NodeFunc[S]
	order      []string
	next       map[string]string
	routes     map[string]route[S]
	entryPoint string

	successors   map[string][]string
	predecessors map[string][]string
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph[S]) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers in the order they were added.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	return slices.Clone(cg.order)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// Successors returns the possible next nodes of id: the simple edge target,
// or the declared targets of a conditional edge.
// Returns nil for END, unknown nodes, and routers without declared targets.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	return slices.Clone(cg.successors[id])
}

// Predecessors returns the node IDs with an edge (or declared route) to id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return slices.Clone(cg.predecessors[id])
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.routes[id]
	return ok
}
