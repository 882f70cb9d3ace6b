package solidapi

import (
	"context"

	"github.com/carlmjohnson/requests"
)

// Runtime provides access to app-scoped dependencies.
// Inject this into handler constructors via fx instead of pulling from context.
//
// Example:
//
//	type Handlers struct {
//	    rt *solidapi.Runtime[Env]
//	}
//
//	func NewHandlers(rt *solidapi.Runtime[Env]) *Handlers {
//	    return &Handlers{rt: rt}
//	}
//
//	func (h *Handlers) GetItem(ctx context.Context, w bhttp.ResponseWriter, r *http.Request) error {
//	    env := h.rt.Env()
//	    sess := solidapi.SessionFromContext(ctx)
//	    sess.Tx().GetContext(ctx, ...)
//	    // ...
//	}
type Runtime[E Environment] struct {
	env      E
	mux      *Mux
	secrets  *SecretProvider
	sessions *SessionFactory
	reqb     *requests.Builder
}

// RuntimeParams holds the dependencies for Runtime.
type RuntimeParams struct {
	Secrets  *SecretProvider
	Sessions *SessionFactory
	Builder  *requests.Builder
}

// NewRuntime creates a new Runtime with the given dependencies.
func NewRuntime[E Environment](env E, mux *Mux, params RuntimeParams) *Runtime[E] {
	return &Runtime[E]{
		env:      env,
		mux:      mux,
		secrets:  params.Secrets,
		sessions: params.Sessions,
		reqb:     params.Builder,
	}
}

// Env returns the environment configuration.
func (r *Runtime[E]) Env() E {
	return r.env
}

// Reverse returns the URL for a named route with the given parameters.
// The route must have been registered with a name using Handle/HandleFunc.
func (r *Runtime[E]) Reverse(name string, params ...string) (string, error) {
	return r.mux.Reverse(name, params...)
}

// Secret retrieves a secret value from the secrets store through the shared
// cache. If jsonPath is provided, the secret is parsed as JSON and the path
// is extracted using gjson syntax (e.g. "database.password").
func (r *Runtime[E]) Secret(ctx context.Context, name string, jsonPath ...string) (string, error) {
	return r.secrets.GetString(ctx, name, jsonPath...)
}

// InvalidateSecret forces the next read of the named secret to re-fetch.
func (r *Runtime[E]) InvalidateSecret(name string) {
	r.secrets.Invalidate(name)
}

// RotateDatabaseCredential signals a credential rotation: the database
// password is re-resolved and the pool rebuilt without dropping in-flight
// sessions.
func (r *Runtime[E]) RotateDatabaseCredential(ctx context.Context) error {
	return r.sessions.Rotate(ctx)
}

// NewRequest returns a fresh [requests.Builder] wired with the instrumented
// transport: outbound calls create child spans and forward the correlation id.
func (r *Runtime[E]) NewRequest() *requests.Builder {
	return r.reqb.Clone()
}
