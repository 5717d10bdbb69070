package flowgraph

import (
	"fmt"
	"log/slog"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
)

const (
	// DefaultMaxIterations is the node execution limit when none is set.
	DefaultMaxIterations = 1000

	// MaxIterationsLimit is the largest value WithMaxIterations accepts.
	MaxIterationsLimit = 100000
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int
	runID         string

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	tracing bool

	checkpointer           Checkpointer
	checkpointFailureFatal bool
	estimate               ProgressEstimator
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c *runConfig) fraction(nodeID string, step int) float64 {
	if c.estimate == nil {
		return 0
	}
	f := c.estimate(nodeID, step)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: DefaultMaxIterations.
//
// Panics if n <= 0 or n > MaxIterationsLimit.
//
// Example:
//
//	result, err := compiled.Run(ctx, state, flowgraph.WithMaxIterations(100))
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("flowgraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("flowgraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithRunID sets the run identifier passed to the Checkpointer and logs.
// Defaults to the Context's RunID.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithObservabilityLogger enables run and node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OTel metrics on the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder sets a specific MetricsRecorder.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m == nil {
			m = observability.NoopMetrics{}
		}
		c.metrics = m
	}
}

// WithTracing enables OTel spans on the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracing = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		}
	}
}

// WithSpanManager enables tracing through a specific SpanManager.
func WithSpanManager(sm observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if sm == nil {
			c.tracing = false
			c.spans = observability.NoopSpanManager{}
			return
		}
		c.tracing = true
		c.spans = sm
	}
}

// WithCheckpointer persists a snapshot before and after every node, on
// interruption, and on completion.
func WithCheckpointer(cp Checkpointer) RunOption {
	return func(c *runConfig) {
		c.checkpointer = cp
	}
}

// WithCheckpointFailureFatal makes Checkpointer.Save failures abort the run
// with a CheckpointError. By default they are logged and execution continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithProgressEstimator sets how Progress.Fraction is computed.
// Completion snapshots always report 1.
func WithProgressEstimator(fn ProgressEstimator) RunOption {
	return func(c *runConfig) {
		c.estimate = fn
	}
}
