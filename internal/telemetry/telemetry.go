// Package telemetry wires OpenTelemetry tracing and metrics for evaluations.
// With no endpoint configured the global no-op providers are used, so
// instrumented code runs unchanged and exports nothing.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/boshu2/phasegate"

// Config configures the exporters.
type Config struct {
	ServiceVersion string
	// Endpoint is an OTLP gRPC endpoint such as "localhost:4317". Empty
	// disables export.
	Endpoint string
	Insecure bool
}

// Provider owns the SDK providers and the engine's instruments.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	evaluations metric.Int64Counter
	gateIssues  metric.Int64Counter
	duration    metric.Float64Histogram
}

// New builds a provider. Instruments are always created; they are no-ops
// when export is disabled.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{logger: logger.With("component", "telemetry")}

	if cfg.Endpoint != "" {
		// Schemaless so the merge adopts the default resource's schema URL.
		res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
			semconv.ServiceName("phasegate"),
			semconv.ServiceVersion(cfg.ServiceVersion),
		))
		if err != nil {
			return nil, fmt.Errorf("create resource: %w", err)
		}
		if err := p.initTracing(ctx, cfg, res); err != nil {
			return nil, err
		}
		if err := p.initMetrics(ctx, cfg, res); err != nil {
			return nil, err
		}
		p.logger.DebugContext(ctx, "telemetry export enabled", "endpoint", cfg.Endpoint)
	}

	p.tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("create instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initTracing(ctx context.Context, cfg Config, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetrics(ctx context.Context, cfg Config, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.evaluations, err = p.meter.Int64Counter("phasegate.evaluations",
		metric.WithDescription("Evaluations by outcome"),
		metric.WithUnit("{evaluation}"))
	if err != nil {
		return err
	}
	p.gateIssues, err = p.meter.Int64Counter("phasegate.gate.issues",
		metric.WithDescription("Blocking issues reported, by gate"),
		metric.WithUnit("{issue}"))
	if err != nil {
		return err
	}
	p.duration, err = p.meter.Float64Histogram("phasegate.evaluation.duration",
		metric.WithDescription("Evaluation duration in seconds"),
		metric.WithUnit("s"))
	return err
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "meter provider shutdown failed", "error", err)
		}
	}
	return nil
}

// StartSpan starts a span on the engine tracer.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.activeTracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordEvaluation counts an evaluation outcome and its duration.
func (p *Provider) RecordEvaluation(ctx context.Context, phaseID, outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", phaseID), attribute.String("outcome", outcome))
	if p.evaluations != nil {
		p.evaluations.Add(ctx, 1, attrs)
	}
	if p.duration != nil {
		p.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
}

// RecordGateIssues counts blocking issues for one gate.
func (p *Provider) RecordGateIssues(ctx context.Context, gate string, n int) {
	if p != nil && p.gateIssues != nil && n > 0 {
		p.gateIssues.Add(ctx, int64(n), metric.WithAttributes(attribute.String("gate", gate)))
	}
}

func (p *Provider) activeTracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tracer
}
