// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TracerName is the instrumentation scope used by soraka spans.
const TracerName = "github.com/sorakabot/soraka"

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Options controls exporter setup.
type Options struct {
	Enabled  bool
	Endpoint string
	Service  string
}

// Init installs an OTLP/HTTP tracer provider as the global provider. When
// tracing is disabled the global no-op provider is left in place and the
// returned shutdown is a no-op.
func Init(ctx context.Context, opts Options, logger *zap.Logger) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop, nil
	}
	if opts.Service == "" {
		opts.Service = "soraka"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.Service),
		)),
	)
	otel.SetTracerProvider(tp)

	if logger != nil {
		logger.Info("tracing enabled", zap.String("endpoint", opts.Endpoint))
	}
	return tp.Shutdown, nil
}

// Tracer returns the soraka tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
