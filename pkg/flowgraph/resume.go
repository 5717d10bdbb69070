package flowgraph

import (
	"encoding/json"
	"fmt"
)

// Resume continues a run from the snapshot its Checkpointer restores.
// The checkpointer must be supplied with WithCheckpointer and is used for
// the continued run as well.
//
// Example:
//
//	// Previous run crashed after node B
//	// Resume continues from node C with state from B's snapshot
//	result, err := compiled.Resume(ctx, "run-123", flowgraph.WithCheckpointer(cp))
func (cg *CompiledGraph[S]) Resume(ctx Context, runID string, opts ...RunOption) (S, error) {
	var zero S

	if ctx == nil {
		return zero, ErrNilContext
	}
	if runID == "" {
		return zero, ErrRunIDRequired
	}

	cfg := newRunConfig(opts)
	if cfg.checkpointer == nil {
		return zero, ErrNoCheckpointer
	}
	cfg.runID = runID

	snap, err := cfg.checkpointer.Restore(ctx, runID)
	if err != nil {
		return zero, fmt.Errorf("restore run %s: %w", runID, err)
	}

	var state S
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if snap.NextNode != END && !cg.HasNode(snap.NextNode) {
		return state, fmt.Errorf("%w: %s", ErrInvalidResumeNode, snap.NextNode)
	}

	return cg.run(ctx, state, snap.NextNode, &cfg)
}

