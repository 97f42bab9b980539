// Package telemetry provides OpenTelemetry tracing for ccm.
//
// Library packages only call StartSpan, which goes through the global
// tracer provider and is a no-op until the CLI installs an OTLP exporter
// with Init.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// InstrumentationName is the tracer name used by every ccm package.
const InstrumentationName = "github.com/logflow/ccm"

// OTLPConfig configures the OpenTelemetry OTLP gRPC exporter.
type OTLPConfig struct {
	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	ServiceName    string
	ServiceVersion string
	Environment    string

	// InsecureTLS disables TLS for the gRPC connection
	InsecureTLS bool

	Headers map[string]string

	BatchTimeout  time.Duration
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64
}

// DefaultOTLPConfig returns defaults for local collection.
func DefaultOTLPConfig(serviceName string) OTLPConfig {
	return OTLPConfig{
		Endpoint:       "localhost:4317",
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    "development",
		InsecureTLS:    true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// Sampler maps a sampling ratio onto an sdk sampler.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// OTLPExporter manages the exporter lifecycle.
type OTLPExporter struct {
	mu sync.Mutex

	cfg            OTLPConfig
	tracerProvider *sdktrace.TracerProvider
	initialized    bool
}

// NewOTLPExporter creates an exporter; call Init to install it.
func NewOTLPExporter(cfg OTLPConfig) *OTLPExporter {
	return &OTLPExporter{cfg: cfg}
}

// Init installs the global tracer provider and returns a shutdown function
// that flushes pending spans.
func (e *OTLPExporter) Init(ctx context.Context) (func(context.Context) error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return e.shutdown, nil
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(e.cfg.Endpoint),
		otlptracegrpc.WithTimeout(e.cfg.ExportTimeout),
	}
	if e.cfg.InsecureTLS {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(e.cfg.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(e.cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(e.cfg.ServiceName),
			semconv.ServiceVersion(e.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(e.cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	e.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(e.cfg.BatchTimeout),
			sdktrace.WithExportTimeout(e.cfg.ExportTimeout),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(e.cfg.SamplingRatio)),
	)

	otel.SetTracerProvider(e.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	e.initialized = true
	return e.shutdown, nil
}

func (e *OTLPExporter) shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.initialized = false
	return e.tracerProvider.Shutdown(ctx)
}

// IsInitialized reports whether Init has succeeded.
func (e *OTLPExporter) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// --- Span helpers ---

// StartSpan starts a span on the global ccm tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddSpanEvent adds an event to the current span from context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes sets attributes on the current span from context.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
