package flowgraph

import (
	"errors"
	"fmt"
)

// Compile errors.
var (
	ErrNoEntryPoint     = errors.New("entry point not set")
	ErrEntryNotFound    = errors.New("entry point node not found")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNoPathToEnd      = errors.New("no path to END from entry")
	ErrNoOutgoingEdge   = errors.New("node has no outgoing edge")
	ErrMultipleEdges    = errors.New("node has more than one outgoing edge")
	ErrConflictingEdges = errors.New("node has both simple and conditional edges")
)

// Run errors.
var (
	ErrMaxIterations        = errors.New("exceeded maximum iterations")
	ErrNilContext           = errors.New("context cannot be nil")
	ErrInvalidRouterResult  = errors.New("router returned empty string")
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
	// ErrRouterTargetNotDeclared means the router picked a real node that was
	// not listed in AddConditionalEdge's targets.
	ErrRouterTargetNotDeclared = errors.New("router returned undeclared target")
)

// Checkpoint and resume errors.
var (
	ErrRunIDRequired     = errors.New("run ID required for checkpointing")
	ErrNoCheckpointer    = errors.New("resume requires a checkpointer")
	ErrSerializeState    = errors.New("failed to serialize state")
	ErrDeserializeState  = errors.New("failed to deserialize state")
	ErrInvalidResumeNode = errors.New("invalid resume node")
)

// CheckpointError reports a failed checkpoint operation. Op is a Phase,
// "serialize", or "restore".
type CheckpointError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s at node %s: %v", e.Op, e.NodeID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// NodeError is returned when a node function fails.
type NodeError struct {
	NodeID string
	Op     string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// PanicError is returned when a node panics. Stack holds the goroutine stack
// captured at recovery.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError is returned when the run context ends. State is the last
// committed state, so callers can persist it for a later resume.
type CancellationError struct {
	NodeID       string
	State        any
	Cause        error
	WasExecuting bool
}

func (e *CancellationError) Error() string {
	where := "before"
	if e.WasExecuting {
		where = "during"
	}
	return fmt.Sprintf("cancelled %s node %s: %v", where, e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }

// RouterError wraps a bad conditional edge result.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

func (e *RouterError) Unwrap() error { return e.Err }

// MaxIterationsError matches ErrMaxIterations with errors.Is.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
	State      any
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

func (e *MaxIterationsError) Unwrap() error { return ErrMaxIterations }
