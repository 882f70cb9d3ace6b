// Package solidapitest provides test helpers for solidapi applications.
//
// It constructs the identical DI graph as [solidapi.NewApp] but uses
// [fxtest.App] which fails the test immediately on DI errors.
//
// Example:
//
//	solidapitest.SetBaseEnv(t, 18081)
//	secrets := solidapitest.NewMapSecretReader(map[string]string{
//	    "db-password": "s3cr3t",
//	    "jwt-signing": "test-signing-key",
//	})
//	app := solidapitest.New[TestEnv](t, routing, solidapi.WithSecretReader(secrets))
//	app.RequireStart()
//	t.Cleanup(app.RequireStop)
package solidapitest

import (
	"testing"

	"github.com/fastkinda/solidapi"
	"go.uber.org/fx/fxtest"
)

// App embeds *fxtest.App for testing solidapi applications.
type App struct {
	*fxtest.App
}

// New creates a test app with the same DI graph as [solidapi.NewApp].
func New[E solidapi.Environment](t testing.TB, routing any, opts ...solidapi.Option) *App {
	return &App{App: fxtest.New(t, solidapi.FxOptions[E](routing, opts...)...)}
}
