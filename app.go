package solidapi

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/carlmjohnson/requests"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// App wraps an fx.App for lifecycle management.
type App struct {
	app *fx.App
}

// AppConfig holds configuration for the app.
type AppConfig struct {
	ServerConfig
	FxOptions []fx.Option

	// SecretReader overrides the AWS-backed reader, for tests.
	SecretReader SecretReader
}

// Option configures the App.
type Option func(*AppConfig)

// WithFx adds fx options for dependency injection.
func WithFx(fxOpts ...fx.Option) Option {
	return func(c *AppConfig) {
		c.FxOptions = append(c.FxOptions, fxOpts...)
	}
}

// WithHealthHandler sets a custom health check handler.
// If not set, a default handler returning 200 OK is used.
func WithHealthHandler(h func(http.ResponseWriter, *http.Request)) Option {
	return func(c *AppConfig) {
		c.HealthHandler = h
	}
}

// WithSkipAuthPaths marks paths that bypass authentication and the database
// session, in addition to the health path.
func WithSkipAuthPaths(paths ...string) Option {
	return func(c *AppConfig) {
		c.SkipAuthPaths = append(c.SkipAuthPaths, paths...)
	}
}

// WithSecretReader replaces the AWS Secrets Manager reader. Intended for
// tests that provide secrets from memory.
func WithSecretReader(r SecretReader) Option {
	return func(c *AppConfig) {
		c.SecretReader = r
	}
}

const (
	awsConfigTimeout      = 10 * time.Second
	sessionFactoryTimeout = 30 * time.Second
)

// provideAWSConfig loads the AWS SDK v2 configuration with the region from
// the environment and, when SOLID_AWS_ENDPOINT is set, the endpoint override
// for local testing against a mocked cloud endpoint.
func provideAWSConfig(env Environment) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), awsConfigTimeout)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.awsRegion()))
	if err != nil {
		return cfg, err
	}

	if endpoint := env.awsEndpoint(); endpoint != "" {
		cfg.BaseEndpoint = aws.String(endpoint)
	}

	return cfg, nil
}

// runtimeProviderParams holds dependencies for Runtime.
type runtimeProviderParams[E Environment] struct {
	fx.In

	Env      E
	Mux      *Mux
	Secrets  *SecretProvider
	Sessions *SessionFactory
	Builder  *requests.Builder
}

// FxOptions returns the complete DI graph for an application. Exposed so the
// solidapitest package can construct the identical graph under fxtest.
func FxOptions[E Environment](routing any, opts ...Option) []fx.Option {
	var cfg AppConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	baseOpts := []fx.Option{
		fx.NopLogger,
		fx.Provide(ParseEnv[E]()),
		fx.Provide(func(e E) Environment { return e }),
		fx.Provide(func(e E) (*zap.Logger, error) { return NewLogger(e) }),
		fx.Provide(NewMux),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewPropagator),
		fx.Provide(provideAWSConfig),
		fx.Provide(func(awsCfg aws.Config) SecretReader {
			if cfg.SecretReader != nil {
				return cfg.SecretReader
			}
			return NewAWSSecretReader(awsCfg)
		}),
		fx.Provide(newSecretProviderFromEnv),
		fx.Provide(newSessionFactoryFromEnv),
		fx.Provide(newVerifierFromEnv),
		fx.Provide(NewHTTPTransport),
		fx.Provide(NewHTTPClient),
		fx.Provide(newRequestBuilder),
		fx.Supply(cfg.ServerConfig),
		fx.Provide(NewServer),
		fx.Provide(func(p runtimeProviderParams[E]) *Runtime[E] {
			return NewRuntime(p.Env, p.Mux, RuntimeParams{
				Secrets:  p.Secrets,
				Sessions: p.Sessions,
				Builder:  p.Builder,
			})
		}),
		fx.Invoke(startServerHook),
		fx.Invoke(routing),
	}

	return append(baseOpts, cfg.FxOptions...)
}

// NewApp creates a batteries-included app with dependency injection.
//
// The routing function can request any types that are provided via fx options.
// At minimum, it should accept *Mux for routing.
//
// Example:
//
//	solidapi.NewApp[Env](func(m *solidapi.Mux, h *Handlers) {
//	    m.HandleFunc("GET /items", h.ListItems, "list-items")
//	},
//	    solidapi.WithFx(fx.Provide(NewHandlers)),
//	).Run()
func NewApp[E Environment](routing any, opts ...Option) *App {
	return &App{app: fx.New(FxOptions[E](routing, opts...)...)}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Start starts the application with the given context.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}

func newSecretProviderFromEnv(env Environment, reader SecretReader, tp trace.TracerProvider) *SecretProvider {
	return NewSecretProvider(reader, env.secretCacheTTL(), tp)
}

func newVerifierFromEnv(env Environment, secrets *SecretProvider) *Verifier {
	return NewVerifier(env.jwtSettings(), secrets)
}

// newSessionFactoryFromEnv resolves the database credential and builds the
// pool, closing it on shutdown.
func newSessionFactoryFromEnv(
	lc fx.Lifecycle,
	env Environment,
	secrets *SecretProvider,
	tp trace.TracerProvider,
	log *zap.Logger,
) (*SessionFactory, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionFactoryTimeout)
	defer cancel()

	factory, err := NewSessionFactory(ctx, env.databaseSettings(), secrets, tp, log)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return factory.Close()
		},
	})

	return factory, nil
}
