package solidapitest

import (
	"strconv"
	"testing"
)

// Env provides a chainable builder for setting [solidapi.BaseEnvironment] env
// vars via t.Setenv. Create one with [SetBaseEnv].
type Env struct {
	t testing.TB
}

// SetBaseEnv sets all [solidapi.BaseEnvironment] env vars to sensible test
// defaults. Port is required because each test must use a unique port to
// avoid collisions.
//
// The AWS credentials are fakes; combine with [NewMapSecretReader] and
// solidapi.WithSecretReader so no test touches a real secrets backend.
func SetBaseEnv(t testing.TB, port int) *Env {
	t.Helper()
	t.Setenv("SOLID_PORT", strconv.Itoa(port))
	t.Setenv("SOLID_SERVICE_NAME", "test")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("SOLID_DB_HOST", "localhost")
	t.Setenv("SOLID_DB_NAME", "test")
	t.Setenv("SOLID_DB_USER", "test")
	t.Setenv("SOLID_DB_PASSWORD_SECRET", "db-password")
	t.Setenv("SOLID_JWT_SECRET", "jwt-signing")
	t.Setenv("SOLID_JWT_ISSUER", "https://issuer.test")
	t.Setenv("SOLID_JWT_AUDIENCE", "test-audience")
	return &Env{t: t}
}

// ServiceName overrides SOLID_SERVICE_NAME.
func (e *Env) ServiceName(name string) *Env {
	e.t.Helper()
	e.t.Setenv("SOLID_SERVICE_NAME", name)
	return e
}

// HealthPath overrides SOLID_HEALTH_PATH.
func (e *Env) HealthPath(path string) *Env {
	e.t.Helper()
	e.t.Setenv("SOLID_HEALTH_PATH", path)
	return e
}

// DBPasswordSecret overrides SOLID_DB_PASSWORD_SECRET.
func (e *Env) DBPasswordSecret(name string) *Env {
	e.t.Helper()
	e.t.Setenv("SOLID_DB_PASSWORD_SECRET", name)
	return e
}

// JWTSecret overrides SOLID_JWT_SECRET.
func (e *Env) JWTSecret(name string) *Env {
	e.t.Helper()
	e.t.Setenv("SOLID_JWT_SECRET", name)
	return e
}
