package solidapi

import (
	"context"
	"net/http"

	"github.com/advdv/bhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ctxKey is the key type for context values.
type ctxKey int

const (
	ctxKeyRequestDep ctxKey = iota
	ctxKeyCorrelationID
	ctxKeyPrincipal
	ctxKeySession
)

// requestDep holds request-scoped dependencies available via context.
// App-scoped dependencies (env, mux, secrets) are accessed via Runtime instead.
type requestDep struct {
	logger *zap.Logger
}

// withRequestDep injects dependencies into the request context.
func withRequestDep(d *requestDep) bhttp.Middleware {
	return func(next bhttp.BareHandler) bhttp.BareHandler {
		return bhttp.BareHandlerFunc(func(w bhttp.ResponseWriter, r *http.Request) error {
			ctx := context.WithValue(r.Context(), ctxKeyRequestDep, d)
			return next.ServeBareBHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestDepFromContext(ctx context.Context) *requestDep {
	d, ok := ctx.Value(ctxKeyRequestDep).(*requestDep)
	if !ok {
		panic("solidapi: requestDep not found in context; is the middleware configured?")
	}
	return d
}

// WithLogger returns a context carrying the given logger. Intended for tests
// that call handlers directly, outside the middleware stack.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyRequestDep, &requestDep{logger: l})
}

// Log returns a correlated zap logger from the context: trace_id, span_id and
// the request's correlation id are bound as fields.
func Log(ctx context.Context) *zap.Logger {
	d := requestDepFromContext(ctx)
	return d.logger.With(correlationFields(ctx)...)
}

// Span returns the current trace span from the context.
func Span(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// CorrelationID returns the request's correlation id, or the empty string
// outside the request lifecycle.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// PrincipalFromContext returns the verified principal for the request.
// The second return is false on unauthenticated paths.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// SessionFromContext returns the request's database session. It is nil on
// paths that skip the request lifecycle (e.g. the health endpoint).
func SessionFromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKeySession).(*Session)
	return s
}

// correlationFields extracts trace_id, span_id and correlation_id from the
// context for log correlation.
func correlationFields(ctx context.Context) []zap.Field {
	var fields []zap.Field

	if id := CorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}

	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return fields
}
