// Package telemetry wraps the global OpenTelemetry tracer/meter providers
// so the rest of the module calls Tracer(name)/Meter(name) the same way the
// teacher's internal/compact package does, without every package importing
// the SDK setup directly. Init always wires stdout exporters (there is no
// OTLP exporter), matching a library that wants useful local traces out of
// the box rather than silently discarding spans.
package telemetry

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter { return otel.Meter(name) }

// Providers holds the SDK providers Init installs globally, so callers can
// flush/shut them down on process exit.
type Providers struct {
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
}

// Shutdown flushes and stops both providers; errors from each are joined.
func (p *Providers) Shutdown(ctx context.Context) error {
	var err error
	if p.Tracer != nil {
		err = errors.Join(err, p.Tracer.Shutdown(ctx))
	}
	if p.Meter != nil {
		err = errors.Join(err, p.Meter.Shutdown(ctx))
	}
	return err
}

// Init installs a stdout-exporting tracer and meter provider as the global
// OTel providers. w receives the serialized spans/metrics; pass io.Discard
// in tests to silence output while still exercising the instrumentation
// paths (spec's ambient observability stack, carried regardless of which
// domain Non-goals apply).
func Init(serviceName string, w io.Writer) (*Providers, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, err
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return &Providers{Tracer: tp, Meter: mp}, nil
}
