package observability

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "flowgraph"

// MetricsRecorder records engine metrics: node executions, graph runs and
// checkpoint sizes. Pipeline-level metrics go through a Sink.
type MetricsRecorder interface {
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)
	RecordGraphRun(ctx context.Context, success bool, duration time.Duration)
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
}

type engineMetrics struct {
	nodeRuns       metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	checkpointSize metric.Int64Histogram
}

var globalMetrics = sync.OnceValues(func() (*engineMetrics, error) {
	return newEngineMetrics(otel.Meter(meterName))
})

// NewMetricsRecorder returns a recorder on the global meter provider, or
// NoopMetrics if the instruments cannot be created.
func NewMetricsRecorder() MetricsRecorder {
	m, err := globalMetrics()
	if err != nil {
		slog.Warn("metrics disabled", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromProvider returns a recorder bound to mp.
func NewMetricsRecorderFromProvider(mp metric.MeterProvider) (MetricsRecorder, error) {
	return newEngineMetrics(mp.Meter(meterName))
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	var (
		m    engineMetrics
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.nodeRuns, err = meter.Int64Counter("flowgraph.node.executions",
		metric.WithDescription("Node executions"))
	collect(err)
	m.nodeFailures, err = meter.Int64Counter("flowgraph.node.errors",
		metric.WithDescription("Node executions that returned an error"))
	collect(err)
	m.nodeLatency, err = meter.Float64Histogram("flowgraph.node.latency_ms",
		metric.WithDescription("Node latency"), metric.WithUnit("ms"))
	collect(err)
	m.graphRuns, err = meter.Int64Counter("flowgraph.graph.runs",
		metric.WithDescription("Graph runs by outcome"))
	collect(err)
	m.graphLatency, err = meter.Float64Histogram("flowgraph.graph.latency_ms",
		metric.WithDescription("Graph run latency"), metric.WithUnit("ms"))
	collect(err)
	m.checkpointSize, err = meter.Int64Histogram("flowgraph.checkpoint.size_bytes",
		metric.WithDescription("Serialized checkpoint size"), metric.WithUnit("By"))
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &m, nil
}

func (m *engineMetrics) RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeRuns.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.nodeFailures.Add(ctx, 1, attrs)
	}
}

func (m *engineMetrics) RecordGraphRun(ctx context.Context, success bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *engineMetrics) RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64) {
	m.checkpointSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("node_id", nodeID)))
}
