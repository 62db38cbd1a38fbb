package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

var (
	// Tracer is safe to use before InitTracer, spans are no-ops until a provider is installed
	Tracer = otel.Tracer("echonext")

	Env_TracingExporter = os.Getenv("TRACING_EXPORTER") // "", "stdout" or "otlp"
	Env_OTLPEndpoint    = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
)

// InitTracer installs the global tracer provider. Returns a shutdown func, which is a no-op
// when tracing is disabled.
func InitTracer(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	var exporter sdktrace.SpanExporter
	var err error
	switch Env_TracingExporter {
	case "":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithInsecure()}
		if Env_OTLPEndpoint != "" {
			// A URL like http://collector:4317, the scheme decides on TLS
			opts = []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(Env_OTLPEndpoint)}
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown TRACING_EXPORTER %q", Env_TracingExporter)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating span exporter: %w", err)
	}

	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		attribute.String("exporter", Env_TracingExporter),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
