// Package telemetry wires OpenTelemetry tracing and Prometheus metrics for
// the server, grounded on the reference pack's Provider/no-op-fallback
// idiom. Unlike the reference pack, the only supported trace exporters are
// "stdout" and "none" — see DESIGN.md for why an OTLP/network exporter was
// dropped.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/graphrun/internal/config"
)

const (
	// TracerName is the instrumentation scope name for server traces.
	TracerName = "graphrun"
	// MeterName is the instrumentation scope name for server metrics.
	MeterName = "graphrun"
)

// Provider wraps OTel tracer and meter providers plus the run Prometheus
// gauges and counters, with a single Shutdown.
type Provider struct {
	TracerProvider *sdktrace.TracerProvider
	Tracer         trace.Tracer
	Meter          metric.Meter

	Metrics *Metrics

	shutdown func(context.Context) error
}

// Init sets up tracing and metrics per cfg. If cfg.Enabled is false, returns
// a no-op Provider with zero runtime overhead.
func Init(ctx context.Context, cfg config.TelemetryConfig, registerer prometheus.Registerer) (*Provider, error) {
	metrics := NewMetrics(registerer, cfg.MetricsEnabled)

	if !cfg.Enabled {
		return &Provider{
			Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
			Meter:    noop.NewMeterProvider().Meter(MeterName),
			Metrics:  metrics,
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "graphrun"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := createExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	return &Provider{
		TracerProvider: tp,
		Tracer:         tp.Tracer(TracerName),
		Meter:          mp.Meter(MeterName),
		Metrics:        metrics,
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

// NoopProvider returns a Provider that traces and records nothing, for
// callers (tests, or components wired without a configured Provider) that
// need a safe non-nil default rather than special-casing nil everywhere.
func NoopProvider() *Provider {
	return &Provider{
		Tracer:   nooptrace.NewTracerProvider().Tracer(TracerName),
		Meter:    noop.NewMeterProvider().Meter(MeterName),
		Metrics:  NewMetrics(prometheus.NewRegistry(), false),
		shutdown: func(context.Context) error { return nil },
	}
}

// Shutdown flushes and shuts down the tracer/meter providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdown == nil {
		return nil
	}
	return p.shutdown(ctx)
}

func createExporter(cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none", "":
		return &noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s (supported: stdout, none)", cfg.Exporter)
	}
}

type noopExporter struct{}

func (e *noopExporter) ExportSpans(_ context.Context, _ []sdktrace.ReadOnlySpan) error { return nil }
func (e *noopExporter) Shutdown(_ context.Context) error                              { return nil }

// runIDAttr is a small helper for span attributes shared across call sites.
func runIDAttr(runID string) attribute.KeyValue {
	return attribute.String("run_id", runID)
}
