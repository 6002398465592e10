package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

const (
	// InstrumentationName is the instrumentation scope of traces and metrics.
	InstrumentationName = "github.com/slok/taskforge"
	defaultServiceName  = "taskforge"
)

// Config is the telemetry configuration.
type Config struct {
	Enabled     bool
	ServiceName string
	// TraceWriter receives the finished spans as JSON, defaults to stderr.
	TraceWriter io.Writer
}

// Provider holds the tracer and meter used by the components.
type Provider struct {
	Tracer   trace.Tracer
	Meter    metric.Meter
	reader   *sdkmetric.ManualReader
	shutdown func(context.Context) error
}

// Init sets up telemetry. When disabled every operation is a noop.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return NoopProvider(), nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	if cfg.TraceWriter == nil {
		cfg.TraceWriter = os.Stderr
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("could not create resource: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.TraceWriter))
	if err != nil {
		return nil, fmt.Errorf("could not create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	return &Provider{
		Tracer: tp.Tracer(InstrumentationName),
		Meter:  mp.Meter(InstrumentationName),
		reader: reader,
		shutdown: func(ctx context.Context) error {
			tErr := tp.Shutdown(ctx)
			mErr := mp.Shutdown(ctx)
			if tErr != nil {
				return tErr
			}
			return mErr
		},
	}, nil
}

// NoopProvider returns a provider that discards everything.
func NoopProvider() *Provider {
	return &Provider{
		Tracer:   nooptrace.NewTracerProvider().Tracer(InstrumentationName),
		Meter:    noopmetric.NewMeterProvider().Meter(InstrumentationName),
		shutdown: func(context.Context) error { return nil },
	}
}

// Collect returns the current metric values, empty for noop providers.
func (p *Provider) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if p.reader == nil {
		return rm, nil
	}
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return rm, fmt.Errorf("could not collect metrics: %w", err)
	}
	return rm, nil
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}
