package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline metric names.
const (
	MetricTotalCost         = "total_cost"
	MetricCostByStage       = "cost_by_stage"
	MetricStageDuration     = "stage_duration"
	MetricRetryCount        = "retry_count"
	MetricBreakerTransition = "breaker_state_transitions"
	MetricQualityScore      = "quality_score"
	MetricBudgetWarning     = "budget_warnings"
)

// Outcome is how a span ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeError     Outcome = "error"
	OutcomeSynthetic Outcome = "synthetic"
	OutcomeSkipped   Outcome = "skipped"
)

// SpanHandle identifies a span started by a Sink.
type SpanHandle struct {
	ID    string
	Name  string
	Start time.Time
	span  trace.Span
}

// Sink is the trace sink the pipeline reports to. Implementations never
// return errors; failures are theirs to absorb.
type Sink interface {
	StartSpan(ctx context.Context, name string, md map[string]any) (context.Context, SpanHandle)
	EndSpan(h SpanHandle, outcome Outcome, md map[string]any)
	RecordMetric(ctx context.Context, name string, value float64, tags map[string]string, ts time.Time)
	RecordCost(ctx context.Context, episodeID, kind string, usd float64, md map[string]any)
}

type metricKind int

const (
	kindHistogram metricKind = iota
	kindCounter
	kindGauge
)

var metricKinds = map[string]metricKind{
	MetricTotalCost:         kindGauge,
	MetricCostByStage:       kindCounter,
	MetricStageDuration:     kindHistogram,
	MetricRetryCount:        kindCounter,
	MetricBreakerTransition: kindCounter,
	MetricQualityScore:      kindHistogram,
	MetricBudgetWarning:     kindCounter,
}

var metricUnits = map[string]string{
	MetricTotalCost:     "USD",
	MetricCostByStage:   "USD",
	MetricStageDuration: "ms",
}

// OTelSink reports spans and metrics through OpenTelemetry. Instruments are
// created on first use and cached by name.
type OTelSink struct {
	tracer trace.Tracer
	meter  metric.Meter
	logger *slog.Logger

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Float64Gauge
}

var _ Sink = (*OTelSink)(nil)

// SinkOption configures an OTelSink.
type SinkOption func(*OTelSink)

// WithTracerProvider uses tp instead of the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) SinkOption {
	return func(s *OTelSink) {
		s.tracer = tp.Tracer(instrumentationName)
	}
}

// WithMeterProvider uses mp instead of the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) SinkOption {
	return func(s *OTelSink) {
		s.meter = mp.Meter(instrumentationName)
	}
}

// WithSinkLogger sets where instrument errors are logged.
func WithSinkLogger(l *slog.Logger) SinkOption {
	return func(s *OTelSink) {
		s.logger = l
	}
}

const instrumentationName = "podcast/pipeline"

// NewOTelSink creates a sink on the global providers unless overridden.
func NewOTelSink(opts ...SinkOption) *OTelSink {
	s := &OTelSink{
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
		logger:     slog.Default(),
		counters:   make(map[string]metric.Float64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Float64Gauge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSpan implements Sink.
func (s *OTelSink) StartSpan(ctx context.Context, name string, md map[string]any) (context.Context, SpanHandle) {
	ctx, span := s.tracer.Start(ctx, name,
		trace.WithAttributes(attributes(md)...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	id := span.SpanContext().SpanID()
	h := SpanHandle{Name: name, Start: time.Now(), span: span}
	if id.IsValid() {
		h.ID = id.String()
	} else {
		h.ID = uuid.NewString()
	}
	return ctx, h
}

// EndSpan implements Sink.
func (s *OTelSink) EndSpan(h SpanHandle, outcome Outcome, md map[string]any) {
	if h.span == nil {
		return
	}
	h.span.SetAttributes(attribute.String("outcome", string(outcome)))
	h.span.SetAttributes(attributes(md)...)
	if outcome == OutcomeError {
		msg := ""
		if v, ok := md["error"]; ok {
			msg = fmt.Sprint(v)
		}
		h.span.SetStatus(codes.Error, msg)
	} else {
		h.span.SetStatus(codes.Ok, "")
	}
	h.span.End()
}

// RecordMetric implements Sink. Synchronous instruments are stamped at
// collection, so ts only reaches the span event.
func (s *OTelSink) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string, ts time.Time) {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		attrs = append(attrs, attribute.String(k, tags[k]))
	}
	opt := metric.WithAttributes(attrs...)

	switch metricKinds[name] {
	case kindCounter:
		if c, ok := s.counter(name); ok {
			c.Add(ctx, value, opt)
		}
	case kindGauge:
		if g, ok := s.gauge(name); ok {
			g.Record(ctx, value, opt)
		}
	default:
		if h, ok := s.histogram(name); ok {
			h.Record(ctx, value, opt)
		}
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		evt := []trace.EventOption{trace.WithAttributes(append(attrs, attribute.Float64("value", value))...)}
		if !ts.IsZero() {
			evt = append(evt, trace.WithTimestamp(ts))
		}
		span.AddEvent("metric."+name, evt...)
	}
}

// RecordCost implements Sink.
func (s *OTelSink) RecordCost(ctx context.Context, episodeID, kind string, usd float64, md map[string]any) {
	s.RecordMetric(ctx, MetricCostByStage, usd, map[string]string{"episode_id": episodeID, "stage": kind}, time.Time{})

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		attrs := append([]attribute.KeyValue{
			attribute.String("episode_id", episodeID),
			attribute.String("kind", kind),
			attribute.Float64("cost_usd", usd),
		}, attributes(md)...)
		span.AddEvent("cost", trace.WithAttributes(attrs...))
	}
}

func (s *OTelSink) counter(name string) (metric.Float64Counter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[name]; ok {
		return c, true
	}
	c, err := s.meter.Float64Counter(name, metric.WithDescription("pipeline "+name), metric.WithUnit(metricUnits[name]))
	if err != nil {
		s.logger.Warn("create counter failed", slog.String("metric", name), slog.String("error", err.Error()))
		return nil, false
	}
	s.counters[name] = c
	return c, true
}

func (s *OTelSink) histogram(name string) (metric.Float64Histogram, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histograms[name]; ok {
		return h, true
	}
	h, err := s.meter.Float64Histogram(name, metric.WithDescription("pipeline "+name), metric.WithUnit(metricUnits[name]))
	if err != nil {
		s.logger.Warn("create histogram failed", slog.String("metric", name), slog.String("error", err.Error()))
		return nil, false
	}
	s.histograms[name] = h
	return h, true
}

func (s *OTelSink) gauge(name string) (metric.Float64Gauge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.gauges[name]; ok {
		return g, true
	}
	g, err := s.meter.Float64Gauge(name, metric.WithDescription("pipeline "+name), metric.WithUnit(metricUnits[name]))
	if err != nil {
		s.logger.Warn("create gauge failed", slog.String("metric", name), slog.String("error", err.Error()))
		return nil, false
	}
	s.gauges[name] = g
	return g, true
}

// guarded wraps a Sink so panics inside it are logged and swallowed.
type guarded struct {
	inner  Sink
	logger *slog.Logger
}

// Guard returns a Sink that never lets a failure in s reach the caller.
// A nil s yields a NoopSink.
func Guard(s Sink, logger *slog.Logger) Sink {
	if s == nil {
		s = NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if g, ok := s.(*guarded); ok {
		return g
	}
	return &guarded{inner: s, logger: logger}
}

func (g *guarded) recover(op string) {
	if r := recover(); r != nil {
		g.logger.Warn("observability sink failed",
			slog.String("op", op),
			slog.String("panic", fmt.Sprint(r)),
		)
	}
}

func (g *guarded) StartSpan(ctx context.Context, name string, md map[string]any) (outCtx context.Context, h SpanHandle) {
	outCtx, h = ctx, SpanHandle{Name: name, Start: time.Now()}
	defer g.recover("start_span")
	return g.inner.StartSpan(ctx, name, md)
}

func (g *guarded) EndSpan(h SpanHandle, outcome Outcome, md map[string]any) {
	defer g.recover("end_span")
	g.inner.EndSpan(h, outcome, md)
}

func (g *guarded) RecordMetric(ctx context.Context, name string, value float64, tags map[string]string, ts time.Time) {
	defer g.recover("record_metric")
	g.inner.RecordMetric(ctx, name, value, tags, ts)
}

func (g *guarded) RecordCost(ctx context.Context, episodeID, kind string, usd float64, md map[string]any) {
	defer g.recover("record_cost")
	g.inner.RecordCost(ctx, episodeID, kind, usd, md)
}

// attributes converts span metadata into OTel attributes in key order.
func attributes(md map[string]any) []attribute.KeyValue {
	if len(md) == 0 {
		return nil
	}
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(md))
	for _, k := range keys {
		switch v := md[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		case time.Duration:
			attrs = append(attrs, attribute.Float64(k+"_ms", float64(v.Milliseconds())))
		case error:
			attrs = append(attrs, attribute.String(k, v.Error()))
		case fmt.Stringer:
			attrs = append(attrs, attribute.String(k, v.String()))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return attrs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
