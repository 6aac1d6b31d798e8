// Package tracing wraps OpenTelemetry span creation for the engine,
// generalized from internal/gateway/tracing.Tracer (HTTP-header
// propagation included) down to the subset a UDP-based protocol
// actually uses: one span per logical send/receive, carrying the
// message's GUUID as an attribute rather than injected into a header
// that does not exist on this wire.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config configures tracing for one engine instance.
type Config struct {
	Enable       bool    `json:",default=false"`
	ServiceName  string  `json:",default=unicast-engine"`
	Endpoint     string  `json:",default=http://localhost:14268/api/traces"`
	Exporter     string  `json:",default=jaeger,options=jaeger|zipkin"`
	SampleRate   float64 `json:",default=1.0"`
	Environment  string  `json:",default=development"`
	BatchTimeout int     `json:",default=5"`
	MaxQueueSize int     `json:",default=2048"`
}

// Tracer wraps an OpenTelemetry TracerProvider. A disabled Tracer is a
// safe no-op: every method short-circuits on config.Enable.
type Tracer struct {
	config   *Config
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	logger   *zap.Logger
}

// New constructs a Tracer from cfg, selecting the jaeger or zipkin
// exporter per cfg.Exporter.
func New(cfg *Config, logger *zap.Logger) (*Tracer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enable {
		logger.Info("tracing disabled")
		return &Tracer{config: cfg, logger: logger}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "jaeger":
		exporter, err = jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
		if err != nil {
			return nil, fmt.Errorf("tracing: create jaeger exporter: %w", err)
		}
		logger.Info("created jaeger exporter", zap.String("endpoint", cfg.Endpoint))
	case "zipkin":
		exporter, err = zipkin.New(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("tracing: create zipkin exporter: %w", err)
		}
		logger.Info("created zipkin exporter", zap.String("endpoint", cfg.Endpoint))
	default:
		return nil, fmt.Errorf("tracing: unsupported exporter %q", cfg.Exporter)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	batcher := sdktrace.NewBatchSpanProcessor(
		exporter,
		sdktrace.WithBatchTimeout(time.Duration(cfg.BatchTimeout)*time.Second),
		sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		sdktrace.WithSpanProcessor(batcher),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing initialized",
		zap.String("service", cfg.ServiceName),
		zap.String("exporter", cfg.Exporter),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Tracer{
		config:   cfg,
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
		logger:   logger,
	}, nil
}

// Shutdown flushes and stops the tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	t.logger.Info("shutting down tracer")
	return t.provider.Shutdown(ctx)
}

// Start begins a span for spanName. Returns the unmodified context and
// a no-op span when tracing is disabled.
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if !t.config.Enable || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartForGUUID begins a span for a send/receive of one logical
// message, attaching its correlation ID (spec §9 / pkg/guuid) as an
// attribute so every retransmission of the same send can be grouped in
// a trace backend.
func (t *Tracer) StartForGUUID(ctx context.Context, spanName, guuid string, peer string) (context.Context, trace.Span) {
	return t.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("unicast.guuid", guuid),
		attribute.String("unicast.peer", peer),
	))
}

// IsEnabled reports whether tracing is active.
func (t *Tracer) IsEnabled() bool {
	return t.config.Enable
}

// AddEvent adds an event to the span carried by ctx.
func (t *Tracer) AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if !t.config.Enable {
		return
	}
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the span carried by ctx.
func (t *Tracer) SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if !t.config.Enable {
		return
	}
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError records err on the span carried by ctx.
func (t *Tracer) RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if !t.config.Enable || err == nil {
		return
	}
	trace.SpanFromContext(ctx).RecordError(err, trace.WithAttributes(attrs...))
}

// GetTraceID returns the hex trace ID of the span carried by ctx, or
// "" if tracing is disabled or ctx carries no valid span.
func (t *Tracer) GetTraceID(ctx context.Context) string {
	if !t.config.Enable {
		return ""
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the hex span ID of the span carried by ctx.
func (t *Tracer) GetSpanID(ctx context.Context) string {
	if !t.config.Enable {
		return ""
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
