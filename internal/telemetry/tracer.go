// Package telemetry wires OpenTelemetry tracing for export workflows.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const ServiceName = "snapshot-exporter"

// Attribute keys.
const (
	JobIDKey        = "snapexp.job.id"
	OriginKey       = "snapexp.origin.snapshot_id"
	StepKey         = "snapexp.step"
	StateKey        = "snapexp.state"
	ResourceIDKey   = "snapexp.resource.id"
	AttemptKey      = "snapexp.attempt"
	ErrorKindKey    = "snapexp.error.kind"
	ClaimOutcomeKey = "snapexp.claim.outcome"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// NewTracer returns a tracer exporting over OTLP/HTTP when enabled, and a
// no-op tracer otherwise. Exporter endpoints come from the standard
// OTEL_EXPORTER_OTLP_* environment variables.
//
// nolint:ireturn
func NewTracer(ctx context.Context, enabled bool) (trace.Tracer, ShutdownFunc, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer(ServiceName), func(context.Context) error { return nil }, nil
	}
	tp, err := newTracerProvider(ctx)
	if err != nil {
		return nil, nil, err
	}
	return tp.Tracer(ServiceName), tp.Shutdown, nil
}

// StartSpan starts a span carrying attrs.
//
// nolint:ireturn,spancheck
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
