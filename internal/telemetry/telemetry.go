// Package telemetry installs the global OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names accepted by Init.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

type Config struct {
	ServiceName string
	// Exporter is one of none, stdout or otlp. The otlp exporter reads the
	// standard OTEL_EXPORTER_OTLP_* variables.
	Exporter string
	// Stdout receives spans from the stdout exporter.
	Stdout io.Writer
}

// Init sets the global tracer provider and returns its shutdown function.
// With the none exporter the global no-op provider is left in place.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(strings.TrimSpace(cfg.Exporter)) {
	case "", ExporterNone:
		return noop, nil
	case ExporterStdout:
		opts := []stdouttrace.Option{}
		if cfg.Stdout != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Stdout))
		}
		exporter, err = stdouttrace.New(opts...)
	case ExporterOTLP:
		exporter, err = otlptracehttp.New(ctx)
	default:
		return noop, fmt.Errorf("unknown trace exporter %q (want none|stdout|otlp)", cfg.Exporter)
	}
	if err != nil {
		return noop, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return noop, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
