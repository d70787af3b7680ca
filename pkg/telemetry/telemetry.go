// Package telemetry provides OpenTelemetry distributed tracing for the
// ingestion pipeline. It instruments each pipeline stage with spans,
// supports W3C Trace Context propagation, and exports to OTLP or stdout.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/athrael-soju/Snappy-sub001"

// Config holds tracing configuration.
type Config struct {
	// Enabled turns tracing on/off.
	Enabled bool

	// Exporter selects the trace exporter: "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address (e.g., "localhost:4317").
	Endpoint string

	// SampleRate controls the sampling ratio (0.0 to 1.0).
	// 1.0 = sample everything, 0.1 = sample 10%.
	SampleRate float64

	// ServiceName overrides the default service name.
	ServiceName string

	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
}

// DefaultConfig returns tracing defaults (disabled).
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    "otlp",
		Endpoint:    "localhost:4317",
		SampleRate:  1.0,
		ServiceName: "snappy-ingest",
		Insecure:    true,
	}
}

// Provider wraps the OTEL TracerProvider and exposes pipeline-stage span
// helpers.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init sets up the global TracerProvider based on the config.
// Returns a Provider that must be shut down with Shutdown().
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		// Return a no-op provider
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case "none", "":
		return &Provider{
			tracer: trace.NewNoopTracerProvider().Tracer(tracerName),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter: %q (supported: otlp, stdout, none)", cfg.Exporter)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("0.1.0"),
		),
		resource.WithProcessRuntimeDescription(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global provider and propagator
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes pending spans and shuts down the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the pipeline tracer for creating spans.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// --- Span helpers for pipeline stages ---

// StartRasterize creates a span for one batch's rasterization.
func (p *Provider) StartRasterize(ctx context.Context, documentID string, batchID, pageCount int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ingest.rasterize",
		trace.WithAttributes(
			attribute.String("ingest.document_id", documentID),
			attribute.Int("ingest.batch_id", batchID),
			attribute.Int("ingest.page_count", pageCount),
		),
	)
}

// StartEmbed creates a span for one batch's embedding stage.
func (p *Provider) StartEmbed(ctx context.Context, documentID string, batchID int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ingest.embed",
		trace.WithAttributes(
			attribute.String("ingest.document_id", documentID),
			attribute.Int("ingest.batch_id", batchID),
		),
	)
}

// StartStore creates a span for one batch's storage stage.
func (p *Provider) StartStore(ctx context.Context, documentID string, batchID int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ingest.store",
		trace.WithAttributes(
			attribute.String("ingest.document_id", documentID),
			attribute.Int("ingest.batch_id", batchID),
		),
	)
}

// StartOCR creates a span for one batch's OCR stage.
func (p *Provider) StartOCR(ctx context.Context, documentID string, batchID int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ingest.ocr",
		trace.WithAttributes(
			attribute.String("ingest.document_id", documentID),
			attribute.Int("ingest.batch_id", batchID),
		),
	)
}

// StartUpsert creates a span for one batch's upsert stage.
func (p *Provider) StartUpsert(ctx context.Context, documentID string, batchID int) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "ingest.upsert",
		trace.WithAttributes(
			attribute.String("ingest.document_id", documentID),
			attribute.Int("ingest.batch_id", batchID),
		),
	)
}

// RecordResult adds result attributes to a span.
func RecordResult(span trace.Span, pageCount int, latency time.Duration) {
	span.SetAttributes(
		attribute.Int("ingest.result.page_count", pageCount),
		attribute.Int64("ingest.result.latency_ms", latency.Milliseconds()),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.Bool("error", true))
}
