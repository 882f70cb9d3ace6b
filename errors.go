package solidapi

import (
	"encoding/json"

	"github.com/advdv/bhttp"
	"github.com/cockroachdb/errors"
)

// Sentinel errors for the bootstrap layer. Components mark their failures with
// one of these so the request lifecycle can map them to a response status and
// a stable error kind without inspecting error strings.
var (
	// ErrConfig marks a missing or malformed configuration value. Fatal at
	// startup, never surfaced to a request.
	ErrConfig = errors.New("invalid configuration")

	// ErrSecretUnavailable marks a secret fetch that failed after the bounded
	// retry policy was exhausted.
	ErrSecretUnavailable = errors.New("secret unavailable")

	// ErrPoolExhausted marks a session checkout that timed out waiting for
	// pool capacity.
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrDatabase marks a connection-level database failure inside a session.
	ErrDatabase = errors.New("database failure")

	// ErrMissingToken marks a request without an Authorization bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken marks a token that failed signature or claim validation.
	ErrInvalidToken = errors.New("invalid bearer token")

	// ErrExpiredToken marks a token past its expiry claim.
	ErrExpiredToken = errors.New("expired bearer token")
)

// Kind returns a stable identifier for the error's place in the taxonomy.
// It is safe to log and to return to clients: it never carries secret
// material or claim contents.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "config"
	case errors.Is(err, ErrSecretUnavailable):
		return "secret_unavailable"
	case errors.Is(err, ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, ErrDatabase):
		return "database"
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	default:
		return "internal"
	}
}

// codeOf maps an error to the status code the request lifecycle responds with.
// Auth failures are 401, capacity and secret-store failures 503, everything
// else 500 unless the error carries an explicit [bhttp.Error] code.
func codeOf(err error) bhttp.Code {
	switch {
	case errors.Is(err, ErrMissingToken),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpiredToken):
		return bhttp.CodeUnauthorized
	case errors.Is(err, ErrPoolExhausted),
		errors.Is(err, ErrSecretUnavailable):
		return bhttp.CodeServiceUnavailable
	case errors.Is(err, ErrDatabase):
		return bhttp.CodeInternalServerError
	}

	if code := bhttp.CodeOf(err); code != bhttp.CodeUnknown {
		return code
	}

	return bhttp.CodeInternalServerError
}

// errorBody is the structured response rendered on every failure path.
// Clients get the error kind and the correlation id, never a stack trace.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// writeError discards anything the handler buffered and renders the
// structured error body. Reset clears buffered headers too, so the
// correlation header is re-set afterwards.
func writeError(w bhttp.ResponseWriter, err error, correlationID string) {
	w.Reset()
	w.Header().Set("Content-Type", "application/json")
	if correlationID != "" {
		w.Header().Set("X-Request-Id", correlationID)
	}
	w.WriteHeader(int(codeOf(err)))

	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Kind:          Kind(err),
		CorrelationID: correlationID,
	}})
}
