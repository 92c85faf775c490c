// Package tracing sets up the OpenTelemetry tracer provider used for run,
// round and agent invocation spans.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config holds tracing configuration.
type Config struct {
	// Exporter selects where spans go: "none" or "stdout".
	Exporter string
	// SampleRate is the fraction of runs traced, between 0 and 1.
	SampleRate float64
	// Writer overrides stdout for the stdout exporter.
	Writer io.Writer
	// PrettyPrint indents exported spans.
	PrettyPrint bool
	// ServiceName and ServiceVersion describe the process.
	ServiceName    string
	ServiceVersion string
}

// Provider wraps the SDK tracer provider.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Setup builds a tracer provider from cfg and installs it as the global
// provider. With the "none" exporter it returns a nil provider and leaves
// the global no-op provider in place.
func Setup(cfg Config) (*Provider, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "magentic"
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans. It is safe on a nil provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
