// Package observability wires OpenTelemetry tracing and metrics for the
// resolver. Disabled (no OTLP endpoint) it degrades to no-op providers, so
// instrumented code never checks a flag.
package observability

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

type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // gRPC endpoint, e.g. "localhost:4317"; empty disables export
}

// Provider owns the trace and metric providers plus the resolver's core
// instruments.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	dispatches      metric.Int64Counter
	attemptDuration metric.Float64Histogram
	settlements     metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{logger: slog.Default().With("component", "observability")}

	if cfg.OTLPEndpoint == "" {
		p.tracer = otel.Tracer("resolver")
		p.meter = otel.Meter("resolver")
		if err := p.initInstruments(); err != nil {
			return nil, err
		}
		p.logger.Info("telemetry export disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	traceExp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExp),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.tracer = otel.Tracer("resolver", trace.WithInstrumentationVersion(cfg.ServiceVersion))
	p.meter = otel.Meter("resolver", metric.WithInstrumentationVersion(cfg.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, err
	}

	p.logger.Info("telemetry initialized", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.dispatches, err = p.meter.Int64Counter("resolver.dispatches.total",
		metric.WithDescription("Resolution attempts dispatched"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	p.attemptDuration, err = p.meter.Float64Histogram("resolver.attempt.duration",
		metric.WithDescription("Resolution attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return err
	}

	p.settlements, err = p.meter.Int64Counter("resolver.settlements.total",
		metric.WithDescription("Settlement submissions by result"),
		metric.WithUnit("{settlement}"),
	)
	if err != nil {
		return err
	}

	p.activeRequests, err = p.meter.Int64UpDownCounter("resolver.requests.active",
		metric.WithDescription("Requests currently in flight"),
		metric.WithUnit("{request}"),
	)
	return err
}

// Tracer returns the resolver tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// RecordDispatch counts one dispatched attempt.
func (p *Provider) RecordDispatch(ctx context.Context, identifier string) {
	p.dispatches.Add(ctx, 1, metric.WithAttributes(attribute.String("identifier", identifier)))
	p.activeRequests.Add(ctx, 1)
}

// RecordAttempt records attempt duration and outcome, and releases the
// in-flight slot taken by RecordDispatch.
func (p *Provider) RecordAttempt(ctx context.Context, d time.Duration, outcome string) {
	p.attemptDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
	p.activeRequests.Add(ctx, -1)
}

// RecordSettlement counts one settlement submission result.
func (p *Provider) RecordSettlement(ctx context.Context, result string) {
	p.settlements.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var firstErr error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
