// Package tracing bridges the processing pipeline to OpenTelemetry: one
// span per Process call, with trace_id/span_id fed back onto the logging
// context frame so every sink sees the active trace. Adapted from the
// teacher's pkg/tracing.TracingManager (exporter/resource/provider setup,
// jaeger + otlp/http exporters behind one Exporter switch), narrowed to the
// pipeline's single "one span per pass" use rather than the teacher's
// broader HTTP-middleware and instrumented-function surface.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ssw-oss/logcore/pkg/logcoreerr"
)

// Config configures the tracing bridge. Exporter selects "jaeger", "otlp",
// or "console" (an otlp/http exporter pointed at localhost, for local
// debugging without a collector).
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Exporter       string
	Endpoint       string
	SampleRate     float64
	BatchTimeout   time.Duration
	MaxBatchSize   int
	Headers        map[string]string
}

func (c Config) withDefaults() Config {
	if c.ServiceVersion == "" {
		c.ServiceVersion = "unknown"
	}
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 1.0
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 5 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 512
	}
	return c
}

// Bridge owns the tracer provider and hands out a Tracer for the pipeline
// to start spans with. A disabled Bridge hands out the global no-op tracer,
// so callers never need to branch on Enabled themselves.
type Bridge struct {
	cfg      Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// New builds a Bridge. When cfg.Enabled is false, spans are no-ops and no
// exporter is dialed.
func New(cfg Config, logger *logrus.Logger) (*Bridge, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if !cfg.Enabled {
		return &Bridge{cfg: cfg, logger: logger, tracer: otel.Tracer("logcore/noop")}, nil
	}

	cfg = cfg.withDefaults()
	b := &Bridge{cfg: cfg, logger: logger}
	if err := b.initialize(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Bridge) initialize() error {
	exporter, err := b.createExporter()
	if err != nil {
		return logcoreerr.InvalidConfiguration("tracing", "new", fmt.Sprintf("create exporter: %v", err))
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(b.cfg.ServiceName),
			semconv.ServiceVersion(b.cfg.ServiceVersion),
			semconv.DeploymentEnvironment(b.cfg.Environment),
		),
	)
	if err != nil {
		return logcoreerr.InvalidConfiguration("tracing", "new", fmt.Sprintf("merge resource: %v", err))
	}

	b.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(b.cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(b.cfg.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(b.cfg.SampleRate)),
	)
	otel.SetTracerProvider(b.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	b.tracer = otel.Tracer(b.cfg.ServiceName)

	b.logger.WithFields(logrus.Fields{
		"service_name": b.cfg.ServiceName,
		"exporter":     b.cfg.Exporter,
		"endpoint":     b.cfg.Endpoint,
		"sample_rate":  b.cfg.SampleRate,
	}).Info("tracing bridge initialised")
	return nil
}

func (b *Bridge) createExporter() (trace.SpanExporter, error) {
	switch b.cfg.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(b.cfg.Endpoint)))

	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(b.cfg.Endpoint)}
		if len(b.cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(b.cfg.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))

	case "console":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint("http://localhost:4318"),
			otlptracehttp.WithInsecure(),
		))

	default:
		return nil, fmt.Errorf("unsupported exporter: %s", b.cfg.Exporter)
	}
}

// Tracer returns the tracer the pipeline should start spans with.
func (b *Bridge) Tracer() oteltrace.Tracer {
	return b.tracer
}

// StartSpan starts a span named name and returns the span-bearing context
// alongside the trace/span IDs the pipeline stamps onto the context frame.
// Safe to call on a disabled Bridge: it yields a valid, inert span.
func (b *Bridge) StartSpan(ctx context.Context, name string) (context.Context, oteltrace.Span, string, string) {
	ctx, span := b.tracer.Start(ctx, name)
	sc := span.SpanContext()
	var traceID, spanID string
	if sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		spanID = sc.SpanID().String()
	}
	return ctx, span, traceID, spanID
}

// Shutdown flushes and closes the tracer provider, if one was created.
func (b *Bridge) Shutdown(ctx context.Context) error {
	if b.provider == nil {
		return nil
	}
	return b.provider.Shutdown(ctx)
}
