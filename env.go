package solidapi

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap/zapcore"
)

// supportedJWTAlgorithms are the token signing algorithms the verifier accepts.
var supportedJWTAlgorithms = []string{"HS256", "RS256"}

// Environment defines the interface that all environment configurations must implement.
// Embed BaseEnvironment in your struct to satisfy this interface.
type Environment interface {
	port() int
	serviceName() string
	logLevel() zapcore.Level
	otelExporter() string
	otelEndpoint() string
	healthPath() string
	awsRegion() string
	awsEndpoint() string
	secretCacheTTL() time.Duration
	databaseSettings() DatabaseSettings
	jwtSettings() JWTSettings
	validate() error
}

// BaseEnvironment contains the required environment variables for the bootstrap
// layer. Embed this in your custom environment struct.
type BaseEnvironment struct {
	Port        int           `env:"SOLID_PORT,required"`
	ServiceName string        `env:"SOLID_SERVICE_NAME,required"`
	LogLevel    zapcore.Level `env:"SOLID_LOG_LEVEL" envDefault:"info"`

	// OtelExporter selects the span exporter: "stdout" for local development,
	// "otlp" to ship spans to the collector at OtelEndpoint over gRPC.
	OtelExporter string `env:"SOLID_OTEL_EXPORTER" envDefault:"stdout"`
	OtelEndpoint string `env:"SOLID_OTEL_ENDPOINT"`

	HealthPath string `env:"SOLID_HEALTH_PATH" envDefault:"/healthz"`

	AWSRegion string `env:"AWS_REGION,required"`
	// AWSEndpoint overrides the AWS API endpoint, for local testing against a
	// mocked cloud endpoint (e.g. moto on http://localhost:5000).
	AWSEndpoint string `env:"SOLID_AWS_ENDPOINT"`

	SecretCacheTTL time.Duration `env:"SOLID_SECRET_CACHE_TTL" envDefault:"5m"`

	DBHost           string        `env:"SOLID_DB_HOST,required"`
	DBPort           int           `env:"SOLID_DB_PORT" envDefault:"5432"`
	DBName           string        `env:"SOLID_DB_NAME,required"`
	DBUser           string        `env:"SOLID_DB_USER,required"`
	DBSSLMode        string        `env:"SOLID_DB_SSL_MODE" envDefault:"disable"`
	DBPasswordSecret string        `env:"SOLID_DB_PASSWORD_SECRET,required"`
	DBMaxOpenConns   int           `env:"SOLID_DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns   int           `env:"SOLID_DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBAcquireTimeout time.Duration `env:"SOLID_DB_ACQUIRE_TIMEOUT" envDefault:"5s"`

	JWTSecretName string `env:"SOLID_JWT_SECRET,required"`
	JWTAlgorithm  string `env:"SOLID_JWT_ALGORITHM" envDefault:"HS256"`
	JWTIssuer     string `env:"SOLID_JWT_ISSUER,required"`
	JWTAudience   string `env:"SOLID_JWT_AUDIENCE,required"`
}

func (e BaseEnvironment) port() int {
	return e.Port
}

func (e BaseEnvironment) serviceName() string {
	return e.ServiceName
}

func (e BaseEnvironment) logLevel() zapcore.Level {
	return e.LogLevel
}

func (e BaseEnvironment) otelExporter() string {
	return e.OtelExporter
}

func (e BaseEnvironment) otelEndpoint() string {
	return e.OtelEndpoint
}

func (e BaseEnvironment) healthPath() string {
	return e.HealthPath
}

func (e BaseEnvironment) awsRegion() string {
	return e.AWSRegion
}

func (e BaseEnvironment) awsEndpoint() string {
	return e.AWSEndpoint
}

func (e BaseEnvironment) secretCacheTTL() time.Duration {
	return e.SecretCacheTTL
}

func (e BaseEnvironment) databaseSettings() DatabaseSettings {
	return DatabaseSettings{
		Host:           e.DBHost,
		Port:           e.DBPort,
		Name:           e.DBName,
		User:           e.DBUser,
		SSLMode:        e.DBSSLMode,
		PasswordSecret: e.DBPasswordSecret,
		MaxOpenConns:   e.DBMaxOpenConns,
		MaxIdleConns:   e.DBMaxIdleConns,
		AcquireTimeout: e.DBAcquireTimeout,
	}
}

func (e BaseEnvironment) jwtSettings() JWTSettings {
	return JWTSettings{
		SecretName: e.JWTSecretName,
		Algorithm:  e.JWTAlgorithm,
		Issuer:     e.JWTIssuer,
		Audience:   e.JWTAudience,
	}
}

// validate checks constraints that the env tags cannot express.
func (e BaseEnvironment) validate() error {
	if e.Port < 1 || e.Port > 65535 {
		return errors.Errorf("SOLID_PORT out of range: %d", e.Port)
	}

	if !lo.Contains(supportedJWTAlgorithms, e.JWTAlgorithm) {
		return errors.Errorf("unsupported SOLID_JWT_ALGORITHM: %q (supported: %v)",
			e.JWTAlgorithm, supportedJWTAlgorithms)
	}

	if e.OtelExporter == exporterOTLP && e.OtelEndpoint == "" {
		return errors.New("SOLID_OTEL_ENDPOINT is required when SOLID_OTEL_EXPORTER=otlp")
	}

	if e.DBPort < 1 || e.DBPort > 65535 {
		return errors.Errorf("SOLID_DB_PORT out of range: %d", e.DBPort)
	}

	if e.DBMaxOpenConns < 1 {
		return errors.Errorf("SOLID_DB_MAX_OPEN_CONNS must be at least 1, got %d", e.DBMaxOpenConns)
	}

	if e.DBMaxIdleConns < 0 || e.DBMaxIdleConns > e.DBMaxOpenConns {
		return errors.Errorf("SOLID_DB_MAX_IDLE_CONNS must be between 0 and SOLID_DB_MAX_OPEN_CONNS, got %d", e.DBMaxIdleConns)
	}

	if e.DBAcquireTimeout <= 0 {
		return errors.Errorf("SOLID_DB_ACQUIRE_TIMEOUT must be positive, got %s", e.DBAcquireTimeout)
	}

	if e.SecretCacheTTL <= 0 {
		return errors.Errorf("SOLID_SECRET_CACHE_TTL must be positive, got %s", e.SecretCacheTTL)
	}

	return nil
}

var _ Environment = BaseEnvironment{}

// ParseEnv parses environment variables into the given Environment type.
// Configuration errors are fatal at startup: the returned error is marked
// [ErrConfig] and aborts app construction, there are no retries.
func ParseEnv[E Environment]() func() (E, error) {
	return func() (e E, err error) {
		if err := env.Parse(&e); err != nil {
			return e, errors.Mark(errors.Wrap(err, "failed to parse environment"), ErrConfig)
		}
		if err := e.validate(); err != nil {
			return e, errors.Mark(errors.Wrap(err, "invalid environment"), ErrConfig)
		}
		return e, nil
	}
}
