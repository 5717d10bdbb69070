package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/settings"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/observability"
)

type telemetry struct {
	sink     observability.Sink
	shutdown func(context.Context) error
}

// setupTelemetry returns a no-op sink unless observability is enabled, in
// which case spans and metrics are exported to w. The providers are also
// installed globally so the graph's own run and node spans reach w.
func setupTelemetry(s settings.Settings, w io.Writer, logger *slog.Logger) (*telemetry, error) {
	if !s.Observability {
		return &telemetry{
			sink:     observability.NoopSink{},
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExporter))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	sink := observability.NewOTelSink(
		observability.WithTracerProvider(tp),
		observability.WithMeterProvider(mp),
		observability.WithSinkLogger(logger),
	)
	return &telemetry{
		sink: sink,
		shutdown: func(ctx context.Context) error {
			// Flush even when the command was interrupted.
			ctx = context.WithoutCancel(ctx)
			return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
		},
	}, nil
}
