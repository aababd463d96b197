// Package telemetry sets up OpenTelemetry tracing and exposes the tracer used
// by agents, tools, the orchestrator and the HTTP surface. Without Init the
// global no-op provider is used, so spans cost nothing in tests.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/researchmesh/config"
	"github.com/hupe1980/researchmesh/logging"
)

// InstrumentationName identifies spans created by this module.
const InstrumentationName = "github.com/hupe1980/researchmesh"

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// EndSpan records err (if any) and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Init sets up OpenTelemetry tracing with an OTLP gRPC exporter and returns a
// shutdown function to call on graceful shutdown.
func Init(ctx context.Context, cfg config.TelemetryConfig, logger logging.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		logger.Info("telemetry.disabled")
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("telemetry.initialized", "endpoint", cfg.OTLPEndpoint, "service", cfg.ServiceName, "sample_ratio", cfg.SampleRatio)

	return tp.Shutdown, nil
}
