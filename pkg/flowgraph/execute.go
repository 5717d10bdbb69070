package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"time"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
	"go.opentelemetry.io/otel/trace"
)

// Run executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// On error, returns the state at the point of failure (useful for debugging).
//
// Execution flow:
//  1. Start at the entry point node
//  2. Check for cancellation
//  3. Snapshot (PhaseBefore), execute the current node
//  4. Determine the next node (via simple or conditional edge)
//  5. Snapshot (PhaseAfter) and repeat until END is reached or an error occurs
//
// Cancelling ctx does not interrupt a running node; the run stops before
// the next one with a CancellationError.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background())
//	result, err := compiled.Run(ctx, initialState)
//	if err != nil {
//	    // result contains state at point of failure
//	}
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}
	cfg := newRunConfig(opts)
	return cg.run(ctx, state, cg.entryPoint, &cfg)
}

// run wraps execute with run-level logging, metrics and the run span.
func (cg *CompiledGraph[S]) run(ctx Context, state S, startNode string, cfg *runConfig) (result S, runErr error) {
	if cfg.runID == "" {
		cfg.runID = ctx.RunID()
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, cfg.runID)

	var tracingCtx context.Context = ctx
	if cfg.tracing {
		var runSpan trace.Span
		tracingCtx, runSpan = cfg.spans.StartRunSpan(ctx, "flowgraph", cfg.runID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	var nodeCount int
	result, nodeCount, runErr = cg.execute(tracingCtx, ctx, state, startNode, cfg)

	duration := time.Since(startTime)
	cfg.metrics.RecordGraphRun(ctx, runErr == nil, duration)

	durationMs := float64(duration.Milliseconds())
	if runErr != nil {
		observability.LogRunError(cfg.logger, cfg.runID, runErr, durationMs, lastNodeOf(runErr))
	} else {
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, nodeCount)
	}

	return result, runErr
}

func lastNodeOf(err error) string {
	var nodeErr *NodeError
	var panicErr *PanicError
	var maxErr *MaxIterationsError
	var cancelErr *CancellationError
	var routerErr *RouterError
	var cpErr *CheckpointError
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}

// execute is the node loop. tracingCtx carries span context; fgCtx is the
// flowgraph Context. Returns the final state and the number of nodes run.
func (cg *CompiledGraph[S]) execute(tracingCtx context.Context, fgCtx Context, state S, startNode string, cfg *runConfig) (S, int, error) {
	current := startNode
	iterations := 0
	step := 0

	for current != END {
		iterations++
		if iterations > cfg.maxIterations {
			return state, step, &MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: current,
				State:      state,
			}
		}

		if err := fgCtx.Err(); err != nil {
			cancelErr := &CancellationError{
				NodeID:       current,
				State:        state,
				Cause:        err,
				WasExecuting: false,
			}
			cg.interrupted(fgCtx, cfg, current, current, step, state, cancelErr)
			return state, step, cancelErr
		}

		nodeCtx := forNode(fgCtx, cfg.runID, current)

		before := Progress{
			RunID:    cfg.runID,
			NodeID:   current,
			NextNode: current,
			Step:     step,
			Fraction: cfg.fraction(current, step),
		}
		if err := cg.save(nodeCtx, cfg, PhaseBefore, before, state, nil); err != nil {
			return state, step, err
		}

		observability.LogNodeStart(cfg.logger, current)

		nodeTracingCtx := tracingCtx
		var nodeSpan trace.Span
		if cfg.tracing {
			nodeTracingCtx, nodeSpan = cfg.spans.StartNodeSpan(tracingCtx, current)
		}

		nodeStart := time.Now()
		var nodeErr error
		state, nodeErr = cg.executeNode(nodeCtx, current, state)
		nodeDuration := time.Since(nodeStart)

		cfg.metrics.RecordNodeExecution(nodeTracingCtx, current, nodeDuration, nodeErr)
		if cfg.tracing {
			cfg.spans.EndSpanWithError(nodeSpan, nodeErr)
		}

		if nodeErr != nil {
			observability.LogNodeError(cfg.logger, current, nodeErr)
			cg.interrupted(nodeCtx, cfg, current, current, step, state, nodeErr)
			return state, step, nodeErr
		}
		observability.LogNodeComplete(cfg.logger, current, float64(nodeDuration.Milliseconds()))
		step++

		next, err := cg.nextNode(nodeCtx, state, current)
		if err != nil {
			cg.interrupted(nodeCtx, cfg, current, current, step, state, err)
			return state, step, err
		}

		after := Progress{
			RunID:    cfg.runID,
			NodeID:   current,
			NextNode: next,
			Step:     step,
			Fraction: cfg.fraction(next, step),
		}
		if next == END {
			after.Fraction = 1
		}
		if err := cg.save(nodeCtx, cfg, PhaseAfter, after, state, nil); err != nil {
			return state, step, err
		}

		current = next
	}

	done := Progress{RunID: cfg.runID, NodeID: END, NextNode: END, Step: step, Fraction: 1}
	if err := cg.save(fgCtx, cfg, PhaseCompleted, done, state, nil); err != nil {
		return state, step, err
	}

	return state, step, nil
}

// interrupted records a PhaseInterrupted snapshot. Failures are logged
// only; cause is what the caller sees.
func (cg *CompiledGraph[S]) interrupted(ctx Context, cfg *runConfig, nodeID, resumeAt string, step int, state S, cause error) {
	p := Progress{
		RunID:    cfg.runID,
		NodeID:   nodeID,
		NextNode: resumeAt,
		Step:     step,
		Fraction: cfg.fraction(resumeAt, step),
	}
	if err := cg.save(context.WithoutCancel(ctx), cfg, PhaseInterrupted, p, state, cause); err != nil {
		observability.LogCheckpointError(cfg.logger, nodeID, string(PhaseInterrupted), err)
	}
}

// save serializes state and hands a snapshot to the Checkpointer.
// It returns an error only when checkpoint failures are fatal.
func (cg *CompiledGraph[S]) save(ctx context.Context, cfg *runConfig, phase Phase, p Progress, state S, cause error) error {
	if cfg.checkpointer == nil {
		return nil
	}

	data, err := json.Marshal(state)
	if err != nil {
		return cg.checkpointFailed(cfg, p.NodeID, "serialize", fmt.Errorf("%w: %v", ErrSerializeState, err))
	}

	snap := Snapshot{Progress: p, Phase: phase, State: data, Cause: cause}
	if err := cfg.checkpointer.Save(ctx, snap); err != nil {
		return cg.checkpointFailed(cfg, p.NodeID, string(phase), err)
	}

	observability.LogCheckpoint(cfg.logger, p.NodeID, len(data))
	cfg.metrics.RecordCheckpoint(ctx, p.NodeID, int64(len(data)))
	return nil
}

func (cg *CompiledGraph[S]) checkpointFailed(cfg *runConfig, nodeID, op string, err error) error {
	if cfg.checkpointFailureFatal {
		return &CheckpointError{NodeID: nodeID, Op: op, Err: err}
	}
	observability.LogCheckpointError(cfg.logger, nodeID, op, err)
	return nil
}

// executeNode executes a single node with panic recovery.
// Returns the new state and any error (including wrapped panics).
func (cg *CompiledGraph[S]) executeNode(ctx Context, nodeID string, state S) (result S, err error) {
	fn, exists := cg.nodes[nodeID]
	if !exists {
		return state, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			result = state
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	result, err = fn(ctx, state)
	if err != nil {
		return result, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}

	return result, nil
}

// nextNode determines the next node to execute.
func (cg *CompiledGraph[S]) nextNode(ctx Context, state S, current string) (string, error) {
	if r, ok := cg.routes[current]; ok {
		next := r.router(ctx, state)

		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if len(r.targets) > 0 && !slices.Contains(r.targets, next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotDeclared}
		}
		if next != END && !cg.HasNode(next) {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
		}
		return next, nil
	}

	next, ok := cg.next[current]
	if !ok {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("%w: %s", ErrNoOutgoingEdge, current),
		}
	}
	return next, nil
}
