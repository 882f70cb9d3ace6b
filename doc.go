// Package solidapi provides a batteries-included bootstrap layer for HTTP API
// services backed by Postgres and AWS Secrets Manager.
//
// # Overview
//
// solidapi handles the boilerplate of standing up an API service: environment
// parsing, structured logging, OpenTelemetry tracing, secret resolution with
// caching and rotation, a transactional database session per request, and JWT
// bearer authentication. A complete application is one call:
//
//	solidapi.NewApp[Env](func(m *solidapi.Mux, h *Handlers) {
//	    m.HandleFunc("GET /items", h.ListItems, "list-items")
//	},
//	    solidapi.WithFx(fx.Provide(NewHandlers)),
//	).Run()
//
// # Environment Configuration
//
// Define your environment by embedding [BaseEnvironment]:
//
//	type Env struct {
//	    solidapi.BaseEnvironment
//	    ItemsPageSize int `env:"ITEMS_PAGE_SIZE" envDefault:"50"`
//	}
//
// BaseEnvironment recognizes the following environment variables; unknown
// variables are ignored. A missing required variable or a value that fails
// validation aborts startup.
//
//	| Variable                  | Required | Default  | Description                                         |
//	|---------------------------|----------|----------|-----------------------------------------------------|
//	| SOLID_PORT                | Yes      | -        | Port the HTTP server listens on                     |
//	| SOLID_SERVICE_NAME        | Yes      | -        | Service name for logging and tracing                |
//	| SOLID_LOG_LEVEL           | No       | info     | Log level (debug, info, warn, error)                |
//	| SOLID_OTEL_EXPORTER       | No       | stdout   | Trace exporter: "stdout" or "otlp"                  |
//	| SOLID_OTEL_ENDPOINT       | If otlp  | -        | OTLP gRPC collector endpoint (host:port)            |
//	| SOLID_HEALTH_PATH         | No       | /healthz | Health check endpoint path                          |
//	| AWS_REGION                | Yes      | -        | AWS region for the secrets store                    |
//	| SOLID_AWS_ENDPOINT        | No       | -        | AWS endpoint override (mocked cloud for local dev)  |
//	| SOLID_SECRET_CACHE_TTL    | No       | 5m       | Secret cache entry lifetime                         |
//	| SOLID_DB_HOST             | Yes      | -        | Postgres host                                       |
//	| SOLID_DB_PORT             | No       | 5432     | Postgres port                                       |
//	| SOLID_DB_NAME             | Yes      | -        | Database name                                       |
//	| SOLID_DB_USER             | Yes      | -        | Database user                                       |
//	| SOLID_DB_SSL_MODE         | No       | disable  | libpq sslmode                                       |
//	| SOLID_DB_PASSWORD_SECRET  | Yes      | -        | Secret name holding the database password           |
//	| SOLID_DB_MAX_OPEN_CONNS   | No       | 10       | Pool capacity (bounded concurrent checkouts)        |
//	| SOLID_DB_MAX_IDLE_CONNS   | No       | 5        | Idle connections kept in the pool                   |
//	| SOLID_DB_ACQUIRE_TIMEOUT  | No       | 5s       | Max wait for pool capacity before 503               |
//	| SOLID_JWT_SECRET          | Yes      | -        | Secret name holding the token verification key      |
//	| SOLID_JWT_ALGORITHM       | No       | HS256    | Token signing algorithm (HS256 or RS256)            |
//	| SOLID_JWT_ISSUER          | Yes      | -        | Expected token issuer                               |
//	| SOLID_JWT_AUDIENCE        | Yes      | -        | Expected token audience                             |
//
// # Request Lifecycle
//
// Every request outside the skip paths moves through a fixed lifecycle:
// the bearer token is verified, a correlation id is bound to the span, the
// logger and the X-Request-Id response header, a transactional database
// session is opened, and the handler runs. On success the session commits;
// on handler error or client cancellation it rolls back. The
// terminal commit/rollback always happens before the request span closes,
// and a session is released exactly once on every exit path, including
// client disconnects.
//
// Handlers access the request-scoped values through the context:
//
//	func (h *Handlers) GetItem(ctx context.Context, w bhttp.ResponseWriter, r *http.Request) error {
//	    solidapi.Log(ctx).Info("fetching item")
//	    principal, _ := solidapi.PrincipalFromContext(ctx)
//	    sess := solidapi.SessionFromContext(ctx)
//	    return sess.Tx().GetContext(ctx, &item, query, id)
//	}
//
// Failures render a structured JSON body carrying a stable error kind and the
// correlation id, never a stack trace and never secret material.
//
// # Secrets
//
// Secrets resolve through a shared [SecretProvider]: cached with a TTL,
// fetched at most once per name under concurrency (single-flight), retried
// with bounded exponential backoff, and invalidated explicitly on rotation.
// The database pool and the JWT verifier both draw their credentials from it.
//
// [Runtime.RotateDatabaseCredential] re-resolves the database password and
// swaps in a fresh pool; the old pool drains as in-flight sessions finish.
//
// # Testing
//
// The companion [solidapitest] package constructs the identical DI graph
// under fxtest, provides an in-memory secret reader, and a CallHandler helper
// for unit-testing handlers without the server.
package solidapi
