package solidapi

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// tracerName identifies spans created by this package's own instrumentation
// (secret fetches, database sessions).
const tracerName = "github.com/fastkinda/solidapi"

const (
	exporterStdout = "stdout"
	exporterOTLP   = "otlp"

	tracingInitTimeout = 5 * time.Second
)

// NewTracerProvider creates and configures the OpenTelemetry TracerProvider.
// Supported exporters via SOLID_OTEL_EXPORTER: "stdout" (default, local
// development) and "otlp" (gRPC to the collector at SOLID_OTEL_ENDPOINT).
// Spans go through a batch processor, so export failures surface in local
// logs and never fail a request. Shutdown is handled via fx.Lifecycle.
func NewTracerProvider(lc fx.Lifecycle, env Environment) (trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tracingInitTimeout)
	defer cancel()

	exporter, err := newExporter(ctx, env.otelExporter(), env.otelEndpoint())
	if err != nil {
		return nil, err
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(env.serviceName()),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp, nil
}

// NewPropagator creates the W3C TraceContext + Baggage composite propagator.
func NewPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// newExporter creates a span exporter based on the exporter type.
func newExporter(ctx context.Context, exporterType, endpoint string) (sdktrace.SpanExporter, error) {
	switch exporterType {
	case exporterStdout, "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case exporterOTLP:
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	default:
		return nil, errors.Errorf("unsupported SOLID_OTEL_EXPORTER: %q (supported: stdout, otlp)", exporterType)
	}
}

// withTracing wraps the handler with otelhttp for automatic span creation.
// Requests to excludePaths are not traced.
// The TracerProvider and Propagator are explicitly injected to avoid global state.
func withTracing(tp trace.TracerProvider, prop propagation.TextMapPropagator, serviceName string, excludePaths ...string) func(http.Handler) http.Handler {
	excludeSet := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		excludeSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithPropagators(prop),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
			otelhttp.WithFilter(func(r *http.Request) bool {
				_, excluded := excludeSet[r.URL.Path]
				return !excluded
			}),
		)
	}
}
