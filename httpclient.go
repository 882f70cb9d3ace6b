package solidapi

import (
	"net/http"

	"github.com/carlmjohnson/requests"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// NewHTTPTransport creates an HTTP RoundTripper instrumented with OpenTelemetry
// tracing. Outbound requests become child spans of the active trace and carry
// the request's correlation id in X-Request-Id, so downstream services can
// join their logs to ours.
// The TracerProvider and Propagator are explicitly injected to avoid global state.
func NewHTTPTransport(tp trace.TracerProvider, prop propagation.TextMapPropagator) http.RoundTripper {
	return correlationTransport{base: otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithPropagators(prop),
	)}
}

// NewHTTPClient creates an *http.Client that uses the instrumented transport.
func NewHTTPClient(t http.RoundTripper) *http.Client {
	return &http.Client{Transport: t}
}

// newRequestBuilder creates a base [requests.Builder] with the instrumented
// transport. Not exported; handlers access it via [Runtime.NewRequest].
func newRequestBuilder(t http.RoundTripper) *requests.Builder {
	return requests.New().Transport(t)
}

// correlationTransport forwards the request-scoped correlation id on
// outbound calls.
type correlationTransport struct {
	base http.RoundTripper
}

func (t correlationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if id := CorrelationID(req.Context()); id != "" && req.Header.Get("X-Request-Id") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("X-Request-Id", id)
	}
	return t.base.RoundTrip(req)
}
