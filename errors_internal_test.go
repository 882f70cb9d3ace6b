package solidapi

import (
	"testing"

	"github.com/advdv/bhttp"
	"github.com/cockroachdb/errors"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "config", err: errors.Mark(errors.New("boom"), ErrConfig), want: "config"},
		{name: "secret unavailable", err: errors.Mark(errors.New("boom"), ErrSecretUnavailable), want: "secret_unavailable"},
		{name: "pool exhausted", err: errors.Mark(errors.New("boom"), ErrPoolExhausted), want: "pool_exhausted"},
		{name: "database", err: errors.Mark(errors.New("boom"), ErrDatabase), want: "database"},
		{name: "missing token", err: ErrMissingToken, want: "missing_token"},
		{name: "invalid token", err: errors.Mark(errors.New("boom"), ErrInvalidToken), want: "invalid_token"},
		{name: "expired token", err: errors.Mark(errors.New("boom"), ErrExpiredToken), want: "expired_token"},
		{name: "wrapped keeps kind", err: errors.Wrap(errors.Mark(errors.New("boom"), ErrDatabase), "outer"), want: "database"},
		{name: "unknown", err: errors.New("boom"), want: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Kind(tt.err); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bhttp.Code
	}{
		{name: "missing token", err: ErrMissingToken, want: bhttp.CodeUnauthorized},
		{name: "invalid token", err: errors.Mark(errors.New("boom"), ErrInvalidToken), want: bhttp.CodeUnauthorized},
		{name: "expired token", err: errors.Mark(errors.New("boom"), ErrExpiredToken), want: bhttp.CodeUnauthorized},
		{name: "pool exhausted", err: errors.Mark(errors.New("boom"), ErrPoolExhausted), want: bhttp.CodeServiceUnavailable},
		{name: "secret unavailable", err: errors.Mark(errors.New("boom"), ErrSecretUnavailable), want: bhttp.CodeServiceUnavailable},
		{name: "database", err: errors.Mark(errors.New("boom"), ErrDatabase), want: bhttp.CodeInternalServerError},
		{name: "explicit bhttp code", err: bhttp.NewError(bhttp.CodeNotFound, errors.New("boom")), want: bhttp.CodeNotFound},
		{name: "unknown", err: errors.New("boom"), want: bhttp.CodeInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codeOf(tt.err); got != tt.want {
				t.Errorf("codeOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
