package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "zeroclaw"

// Tracer wraps the OTLP trace pipeline. With no endpoint configured it
// degrades to a no-op tracer so call sites never branch.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewTracer sets up OTLP gRPC export toward the given endpoint. An empty
// endpoint returns a no-op tracer and a no-op shutdown.
func NewTracer(ctx context.Context, endpoint string) (*Tracer, func(context.Context) error, error) {
	if endpoint == "" {
		return &Tracer{tracer: otel.Tracer(tracerName)}, func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	))
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", tracerName),
	))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{tracer: provider.Tracer(tracerName), provider: provider}
	return t, provider.Shutdown, nil
}

// Start opens a span. Callers must End it.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// TurnSpan opens the span wrapping one turn execution.
func (t *Tracer) TurnSpan(ctx context.Context, channel, sessionID string) (context.Context, trace.Span) {
	return t.Start(ctx, "turn",
		attribute.String("channel", channel),
		attribute.String("session.id", sessionID),
	)
}

// AttemptSpan opens the span wrapping one provider attempt.
func (t *Tracer) AttemptSpan(ctx context.Context, provider, model string, attempt int) (context.Context, trace.Span) {
	return t.Start(ctx, "provider.attempt",
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.Int("attempt", attempt),
	)
}
