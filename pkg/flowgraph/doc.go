/*
Package flowgraph provides graph-based orchestration for multi-stage workflows.

# Overview

A workflow is a directed graph whose nodes transform a typed state value
and whose edges decide what runs next. Graphs are built with a fluent
builder, validated once by Compile, and executed any number of times by
the resulting CompiledGraph.

  - Type-safe generics for state management
  - Compile-time validation of graph structure
  - Checkpoint hooks before and after every node for crash recovery
  - OpenTelemetry integration for observability

# Basic Usage

Create a graph with nodes and edges, then compile and run:

	type State struct {
	    Input  string
	    Output string
	}

	func process(ctx flowgraph.Context, s State) (State, error) {
	    s.Output = "Processed: " + s.Input
	    return s, nil
	}

	graph := flowgraph.NewGraph[State]().
	    AddNode("process", process).
	    AddEdge("process", flowgraph.END).
	    SetEntry("process")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	ctx := flowgraph.NewContext(context.Background())
	result, err := compiled.Run(ctx, State{Input: "hello"})

Each node has exactly one successor: a simple edge or a conditional edge.

# Conditional Branching

A router picks the successor at runtime. Declaring its possible targets
lets Compile check them and lets the executor reject anything else:

	graph.AddConditionalEdge("review", func(ctx flowgraph.Context, s State) string {
	    if s.Approved {
	        return "publish"
	    }
	    return "revise"
	}, "publish", "revise")

# Loops

Loops are conditional edges back to an earlier node. Bound them with a
counter in state; the executor additionally stops after WithMaxIterations
node executions (default 1000).

# Checkpointing

A Checkpointer receives a Snapshot with the JSON-encoded state before
each node (PhaseBefore), after it (PhaseAfter), when the run fails or is
cancelled (PhaseInterrupted) and when it reaches END (PhaseCompleted).
Snapshot.NextNode is always the node a resumed run should execute first.

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithCheckpointer(cp),
	    flowgraph.WithRunID("run-123"))

	// After a crash
	result, err = compiled.Resume(ctx, "run-123", flowgraph.WithCheckpointer(cp))

# Cancellation

Nodes run under a context that is detached from the caller's
cancellation, so a node in flight completes. The executor checks for
cancellation between nodes and returns a CancellationError after an
interrupted snapshot.

# Observability

	result, err := compiled.Run(ctx, state,
	    flowgraph.WithObservabilityLogger(logger),
	    flowgraph.WithMetrics(true),
	    flowgraph.WithTracing(true))

Logs include structured fields: run_id, node_id, duration_ms, attempt.
OpenTelemetry tracing: flowgraph.run > flowgraph.node.{id} spans.

# Error Handling

	var nodeErr *flowgraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("Node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

Panics in nodes are recovered and converted to PanicError with stack trace.

# Subpackages

  - checkpoint: persisted checkpoint records over file, SQLite, Badger and memory backends
  - resilience: retry policies, circuit breakers and named handlers
  - observability: logging helpers, metrics, tracing and the Sink
  - config: layered configuration from files and environment
  - llm: chat completion client interface
  - template: ${var} expansion for prompts
*/
package flowgraph
