package solidapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/advdv/bhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultResponseBufferLimit caps how much response body a handler may buffer
// before bhttp rejects the response.
const DefaultResponseBufferLimit = 4 * 1024 * 1024

// Server timeouts for an internet-facing listener.
const (
	serverReadHeaderTimeout = 5 * time.Second
	serverReadTimeout       = 30 * time.Second
	serverWriteTimeout      = 30 * time.Second
	serverIdleTimeout       = 2 * time.Minute
)

// Mux is an alias for bhttp.ServeMux.
type Mux = bhttp.ServeMux

// NewMux creates a new Mux with the buffered-response defaults.
func NewMux(log *zap.Logger) *Mux {
	return bhttp.NewServeMuxWith(
		DefaultResponseBufferLimit,
		newZapBHTTPLogger(log),
		http.NewServeMux(),
		bhttp.NewReverser(),
	)
}

// ServerConfig holds optional configuration for the HTTP server.
type ServerConfig struct {
	HealthHandler func(http.ResponseWriter, *http.Request)
	// SkipAuthPaths bypass the request lifecycle (no auth, no session). The
	// health path is always included.
	SkipAuthPaths []string
}

// ServerParams holds the dependencies for creating an HTTP server.
type ServerParams struct {
	fx.In

	Env        Environment
	Mux        *Mux
	Logger     *zap.Logger
	TracerProv trace.TracerProvider
	Propagator propagation.TextMapPropagator
	Verifier   *Verifier
	Sessions   *SessionFactory
}

// NewServer creates an HTTP server with all middleware and routing configured.
func NewServer(params ServerParams, cfg ServerConfig) *http.Server {
	d := &requestDep{
		logger: params.Logger,
	}

	healthPath := params.Env.healthPath()
	skipPaths := append([]string{healthPath}, cfg.SkipAuthPaths...)

	params.Mux.Use(withRequestDep(d))
	params.Mux.Use(WithRequestLifecycle(params.Verifier, params.Sessions, skipPaths...))

	// The health endpoint is probed by the orchestrator; tracing is disabled
	// for it to avoid noisy orphan traces.
	healthHandler := cfg.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	params.Mux.HandleFunc(healthPath, func(_ context.Context, w bhttp.ResponseWriter, _ *http.Request) error {
		healthHandler(w, nil)
		return nil
	})

	handler := withTracing(params.TracerProv, params.Propagator, params.Env.serviceName(), healthPath)(params.Mux)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", params.Env.port()),
		Handler:           handler,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		ReadTimeout:       serverReadTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

// startServerHook registers lifecycle hooks for the HTTP server.
func startServerHook(lc fx.Lifecycle, server *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping server")
			return server.Shutdown(ctx)
		},
	})
}

func defaultHealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
