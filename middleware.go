package solidapi

import (
	"context"
	"net/http"

	"github.com/advdv/bhttp"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// requestState tracks a request's position in the lifecycle. The terminal
// database action always happens before the span closes; cancellation is a
// first-class transition, not an afterthought.
type requestState string

const (
	stateReceived      requestState = "received"
	stateAuthenticated requestState = "authenticated"
	stateSessionOpen   requestState = "session_open"
	stateHandling      requestState = "handling"
	stateCommitted     requestState = "committed"
	stateRolledBack    requestState = "rolled_back"
)

// request outcomes recorded on the server span.
const (
	outcomeCommitted = "committed"
	outcomeError     = "error"
	outcomeCancelled = "cancelled"
)

// WithRequestLifecycle composes the per-request bootstrap: verify the bearer
// token, bind the correlation id, open a transactional session, run the
// handler, then commit on success or roll back on error or cancellation.
//
// Requests to skipPaths bypass authentication and the database session
// entirely (health checks).
//
// Every failure renders a structured error body carrying the error kind and
// correlation id; handlers never see a request without a session.
func WithRequestLifecycle(verifier *Verifier, sessions *SessionFactory, skipPaths ...string) bhttp.Middleware {
	skip := lo.SliceToMap(skipPaths, func(p string) (string, struct{}) { return p, struct{}{} })

	return func(next bhttp.BareHandler) bhttp.BareHandler {
		return bhttp.BareHandlerFunc(func(w bhttp.ResponseWriter, r *http.Request) error {
			if _, ok := skip[r.URL.Path]; ok {
				return next.ServeBareBHTTP(w, r)
			}

			lc := &lifecycle{w: w, state: stateReceived}

			ctx := context.WithValue(r.Context(), ctxKeyCorrelationID, uuid.NewString())
			lc.correlationID = CorrelationID(ctx)
			w.Header().Set("X-Request-Id", lc.correlationID)

			lc.span = Span(ctx)
			lc.span.SetAttributes(attribute.String("request.correlation_id", lc.correlationID))

			principal, err := verifier.Verify(ctx, BearerToken(r))
			if err != nil {
				Log(ctx).Warn("authentication failed", zap.String("error_kind", Kind(err)))
				return lc.fail(err)
			}
			lc.transition(stateAuthenticated)
			ctx = context.WithValue(ctx, ctxKeyPrincipal, principal)

			session, err := sessions.OpenSession(ctx)
			if err != nil {
				Log(ctx).Error("failed to open session",
					zap.String("error_kind", Kind(err)), zap.Error(err))
				return lc.fail(err)
			}
			lc.transition(stateSessionOpen)
			ctx = context.WithValue(ctx, ctxKeySession, session)

			// The deferred rollback releases the lease on every exit path,
			// including a handler panic. It is a no-op after a terminal action.
			defer func() { _ = session.Rollback() }()

			lc.transition(stateHandling)
			handlerErr := next.ServeBareBHTTP(w, r.WithContext(ctx))

			// Client disconnects force an immediate rollback; the response is
			// moot but the session release is unconditional.
			if ctx.Err() != nil {
				_ = session.Rollback()
				lc.transition(stateRolledBack)
				lc.close(outcomeCancelled)
				return nil
			}

			if handlerErr != nil {
				Log(ctx).Error("handler failed",
					zap.String("error_kind", Kind(handlerErr)), zap.Error(handlerErr))
				_ = session.Rollback()
				lc.transition(stateRolledBack)
				return lc.fail(handlerErr)
			}

			if err := session.Commit(); err != nil {
				Log(ctx).Error("commit failed", zap.Error(err))
				lc.transition(stateRolledBack)
				return lc.fail(err)
			}
			lc.transition(stateCommitted)
			lc.close(outcomeCommitted)

			return nil
		})
	}
}

// lifecycle carries the per-request state machine bookkeeping.
type lifecycle struct {
	w             bhttp.ResponseWriter
	span          trace.Span
	state         requestState
	correlationID string
}

func (lc *lifecycle) transition(next requestState) {
	lc.state = next
}

// fail renders the structured error body and records the failure on the span.
// The error is consumed here: returning nil keeps bhttp's fallback plain-text
// 500 from replacing the structured body.
func (lc *lifecycle) fail(err error) error {
	writeError(lc.w, err, lc.correlationID)
	lc.span.SetStatus(codes.Error, Kind(err))
	lc.span.SetAttributes(attribute.String("error.kind", Kind(err)))
	lc.close(outcomeError)
	return nil
}

// close records the final state and outcome. The span itself is ended by the
// tracing handler wrapping the mux, strictly after the terminal action that
// already happened here.
func (lc *lifecycle) close(outcome string) {
	lc.span.SetAttributes(
		attribute.String("request.state", string(lc.state)),
		attribute.String("request.outcome", outcome),
	)
}
