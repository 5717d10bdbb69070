package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards engine metrics.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordNodeExecution(context.Context, string, time.Duration, error) {}
func (NoopMetrics) RecordGraphRun(context.Context, bool, time.Duration) {}
func (NoopMetrics) RecordCheckpoint(context.Context, string, int64) {}

// NoopSpanManager hands out non-recording spans.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartRunSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartNodeSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartNodeSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}
func (NoopSpanManager) AddSpanEvent(context.Context, string, ...attribute.KeyValue) {}

// NoopSink is a Sink that records nothing. Span handles still carry a
// unique ID so callers can correlate log lines.
type NoopSink struct{}

var _ Sink = NoopSink{}

// StartSpan returns the context unchanged.
func (NoopSink) StartSpan(ctx context.Context, name string, _ map[string]any) (context.Context, SpanHandle) {
	return ctx, SpanHandle{ID: uuid.NewString(), Name: name, Start: time.Now()}
}

// EndSpan does nothing.
func (NoopSink) EndSpan(SpanHandle, Outcome, map[string]any) {}

// RecordMetric does nothing.
func (NoopSink) RecordMetric(context.Context, string, float64, map[string]string, time.Time) {}

// RecordCost does nothing.
func (NoopSink) RecordCost(context.Context, string, string, float64, map[string]any) {}
