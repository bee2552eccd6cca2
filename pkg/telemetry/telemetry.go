// Package telemetry wires structured logging and OpenTelemetry tracing and
// metrics for the pipeline behind a single Provider.
//
// Spans export via go.opentelemetry.io/otel/exporters/stdout/stdouttrace
// rather than the OTLP gRPC exporter chain: the OTLP path pulls in
// google.golang.org/grpc and the generated genproto client stubs purely to
// ship spans to a collector process this system has no other reason to
// depend on. stdout export keeps the same tracer/meter instrumentation
// surface without that transitive weight.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the telemetry Provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
}

// DefaultConfig returns the settings used when no overrides are supplied.
func DefaultConfig() *Config {
	return &Config{ServiceName: "licl", ServiceVersion: "1.0.0", Enabled: true}
}

// Provider holds the tracer, meter, and pipeline-stage counters used
// throughout the ingestion and evaluation paths.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	logger         *slog.Logger

	AcceptedCounter  metric.Int64Counter
	DuplicateCounter metric.Int64Counter
	RejectedCounter  metric.Int64Counter
}

// New initializes the Provider. When cfg.Enabled is false, it returns a
// Provider whose Tracer/counters are no-ops so callers never need to
// branch on whether telemetry is turned on.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{config: cfg, logger: slog.Default().With("component", "telemetry")}

	if !cfg.Enabled {
		p.tracer = otel.Tracer("licl")
		noop, _ := otel.Meter("licl").Int64Counter("noop")
		p.AcceptedCounter, p.DuplicateCounter, p.RejectedCounter = noop, noop, noop
		return p, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("licl.pipeline", trace.WithInstrumentationVersion(cfg.ServiceVersion))

	p.meterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(p.meterProvider)
	meter := p.meterProvider.Meter("licl.pipeline")

	if p.AcceptedCounter, err = meter.Int64Counter("licl.signals.accepted"); err != nil {
		return nil, fmt.Errorf("telemetry: accepted counter: %w", err)
	}
	if p.DuplicateCounter, err = meter.Int64Counter("licl.signals.duplicate"); err != nil {
		return nil, fmt.Errorf("telemetry: duplicate counter: %w", err)
	}
	if p.RejectedCounter, err = meter.Int64Counter("licl.signals.rejected"); err != nil {
		return nil, fmt.Errorf("telemetry: rejected counter: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized", "service", cfg.ServiceName)
	return p, nil
}

// StartSpan starts a span for one pipeline stage.
func (p *Provider) StartSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, stage, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the trace/metric providers. Safe to call on a
// disabled Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown meter provider: %w", err)
		}
	}
	return nil
}
