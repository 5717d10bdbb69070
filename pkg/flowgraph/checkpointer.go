package flowgraph

import (
	"context"
	"encoding/json"
)

// Phase identifies when during execution a snapshot was taken.
type Phase string

const (
	// PhaseBefore is taken before a node runs. NextNode is the node itself.
	PhaseBefore Phase = "before"
	// PhaseAfter is taken after a node succeeds and its successor is known.
	PhaseAfter Phase = "after"
	// PhaseInterrupted is taken when a node fails, routing fails, or the run
	// is cancelled. NextNode is where a resumed run re-enters.
	PhaseInterrupted Phase = "interrupted"
	// PhaseCompleted is taken once the run reaches END.
	PhaseCompleted Phase = "completed"
)

// Progress describes where a run is.
type Progress struct {
	RunID string
	// NodeID is the node the snapshot refers to.
	NodeID string
	// NextNode is the node a resumed run would execute first.
	NextNode string
	// Step counts nodes completed so far in this run.
	Step int
	// Fraction is the estimated completion in [0,1].
	Fraction float64
}

// Snapshot is what the engine hands to a Checkpointer.
type Snapshot struct {
	Progress
	Phase Phase
	// State is the JSON-serialized state.
	State json.RawMessage
	// Cause is set for PhaseInterrupted.
	Cause error
}

// Checkpointer persists snapshots and restores runs from them.
//
// Save errors are logged and ignored unless WithCheckpointFailureFatal is
// set. Restore must return a snapshot whose NextNode names a node of the
// graph or END.
type Checkpointer interface {
	Save(ctx context.Context, snap Snapshot) error
	Restore(ctx context.Context, runID string) (Snapshot, error)
}

// ProgressEstimator maps a node about to run (or just completed, when step
// has advanced) to a completion fraction.
type ProgressEstimator func(nodeID string, step int) float64

// LinearProgress returns an estimator that places each node of order at an
// even fraction of the whole. Unknown nodes report 0.
func LinearProgress(order ...string) ProgressEstimator {
	index := make(map[string]int, len(order))
	for i, id := range order {
		index[id] = i
	}
	total := float64(len(order))
	return func(nodeID string, _ int) float64 {
		i, ok := index[nodeID]
		if !ok || total == 0 {
			return 0
		}
		return float64(i) / total
	}
}
