// Package telemetry wires the OpenTelemetry tracer provider used across the
// engine. Spans are exported to an OTLP/HTTP collector when an endpoint is
// configured, or to stdout for development; tracing is off entirely unless
// enabled.
package telemetry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls span export.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	SampleRatio  float64
}

// DefaultConfig returns tracing disabled with a 10% sample ratio once turned
// on.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		ServiceName: "whisperengine-memory",
		SampleRatio: 0.1,
	}
}

// Provider owns the tracer provider lifecycle.
type Provider struct {
	tp     *sdktrace.TracerProvider
	logger *logrus.Logger
}

// Setup builds the exporter named by cfg, installs the global tracer
// provider, and returns a handle whose Shutdown flushes pending spans.
// When cfg.Enabled is false the returned Provider is inert and Tracer
// yields no-op tracers.
func Setup(ctx context.Context, cfg Config, logger *logrus.Logger) (*Provider, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if !cfg.Enabled {
		return &Provider{logger: logger}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	if cfg.OTLPEndpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		var otlpExp *otlptrace.Exporter
		otlpExp, err = otlptracehttp.New(ctx, opts...)
		exporter = otlpExp
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p := withExporter(exporter, cfg, logger)
	logger.WithFields(logrus.Fields{
		"service":  cfg.ServiceName,
		"endpoint": cfg.OTLPEndpoint,
		"sample":   cfg.SampleRatio,
	}).Info("Tracing enabled")
	return p, nil
}

// withExporter assembles the provider around an already-built exporter.
// Split out so tests can capture spans with an in-memory writer.
func withExporter(exporter sdktrace.SpanExporter, cfg Config, logger *logrus.Logger) *Provider {
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
	)

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{tp: tp, logger: logger}
}

// Tracer returns a named tracer from the installed provider, or a no-op
// tracer when tracing is disabled.
func (p *Provider) Tracer(name string) trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.GetTracerProvider().Tracer(name)
	}
	return p.tp.Tracer(name)
}

// Shutdown flushes exporters and releases provider resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}
