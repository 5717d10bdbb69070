package flowgraph

import (
	"context"
	"errors"
	"sync"
)

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

// State is a richer state for routing and checkpoint tests.
type State struct {
	Visited []string `json:"visited"`
	Loops   int      `json:"loops"`
	Done    bool     `json:"done"`
}

func increment(_ Context, s Counter) (Counter, error) {
	s.Value++
	return s, nil
}

// visit records the node name in state.
func visit(name string) NodeFunc[State] {
	return func(_ Context, s State) (State, error) {
		s.Visited = append(s.Visited, name)
		return s, nil
	}
}

func failWith(err error) NodeFunc[State] {
	return func(_ Context, s State) (State, error) {
		return s, err
	}
}

func testCtx() Context {
	return NewContext(context.Background(), WithContextRunID("run-test"))
}

// linear builds a -> b -> c -> END.
func linear() *Graph[State] {
	return NewGraph[State]().
		AddNode("a", visit("a")).
		AddNode("b", visit("b")).
		AddNode("c", visit("c")).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a")
}

// recordingCheckpointer keeps every snapshot in memory and restores the
// latest one for a run.
type recordingCheckpointer struct {
	mu      sync.Mutex
	snaps   []Snapshot
	failOn  Phase
	saveErr error
}

func (r *recordingCheckpointer) Save(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn != "" && snap.Phase == r.failOn {
		return r.saveErr
	}
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *recordingCheckpointer) Restore(_ context.Context, runID string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.snaps) - 1; i >= 0; i-- {
		if r.snaps[i].RunID == runID {
			return r.snaps[i], nil
		}
	}
	return Snapshot{}, errNoSnapshot
}

func (r *recordingCheckpointer) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.snaps))
	for i, s := range r.snaps {
		out[i] = string(s.Phase) + ":" + s.NodeID + ">" + s.NextNode
	}
	return out
}

var errNoSnapshot = errors.New("no snapshot")
