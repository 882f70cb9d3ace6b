package solidapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

// JWTSettings holds the verification parameters. The key material itself is
// resolved from the secrets store by name.
type JWTSettings struct {
	SecretName string
	Algorithm  string
	Issuer     string
	Audience   string
}

// Principal is the verified identity extracted from a bearer token. It is
// immutable, derived per request and discarded at request end.
type Principal struct {
	Subject   string
	Scopes    []string
	ExpiresAt time.Time
	Claims    jwt.MapClaims
}

// Verifier validates bearer tokens against issuer, audience and algorithm
// from settings, using key material from the secret provider.
type Verifier struct {
	settings JWTSettings
	secrets  *SecretProvider
}

// NewVerifier creates a verifier. Key material is fetched lazily through the
// provider so it participates in the shared cache and rotation handling.
func NewVerifier(settings JWTSettings, secrets *SecretProvider) *Verifier {
	return &Verifier{settings: settings, secrets: secrets}
}

// BearerToken extracts the token from the Authorization header. It returns
// the empty string when the header is absent or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return parts[1]
}

// Verify validates the token and returns its principal. Failures map onto
// the taxonomy: [ErrMissingToken] for an absent token, [ErrExpiredToken] for
// a past expiry claim, [ErrInvalidToken] for everything else. On a signature
// mismatch the key is re-resolved once before failing, which tolerates one
// key-rotation race. Malformed tokens fail immediately, without retry.
func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrMissingToken
	}

	principal, err := v.verify(ctx, token)
	if err != nil && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		v.secrets.Invalidate(v.settings.SecretName)
		principal, err = v.verify(ctx, token)
	}
	if err != nil {
		if errors.Is(err, ErrSecretUnavailable) {
			return Principal{}, err
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, errors.Mark(err, ErrExpiredToken)
		}
		return Principal{}, errors.Mark(err, ErrInvalidToken)
	}

	return principal, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (Principal, error) {
	key, err := v.key(ctx)
	if err != nil {
		return Principal{}, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.settings.Algorithm}),
		jwt.WithIssuer(v.settings.Issuer),
		jwt.WithAudience(v.settings.Audience),
		jwt.WithExpirationRequired(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return Principal{}, err
	}

	subject, err := claims.GetSubject()
	if err != nil {
		return Principal{}, errors.Wrap(err, "invalid subject claim")
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil {
		return Principal{}, errors.Wrap(err, "invalid expiry claim")
	}

	return Principal{
		Subject:   subject,
		Scopes:    scopesFromClaims(claims),
		ExpiresAt: expiry.Time,
		Claims:    claims,
	}, nil
}

// key resolves the verification key material for the configured algorithm:
// the raw secret for HS256, a PEM-encoded public key for RS256.
func (v *Verifier) key(ctx context.Context) (any, error) {
	material, err := v.secrets.GetString(ctx, v.settings.SecretName)
	if err != nil {
		return nil, err
	}

	switch v.settings.Algorithm {
	case "RS256":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(material))
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse RSA public key")
		}
		return key, nil
	default:
		return []byte(material), nil
	}
}

// scopesFromClaims reads the "scope" claim in either of its common shapes:
// a JSON array of strings or a single space-delimited string.
func scopesFromClaims(claims jwt.MapClaims) []string {
	switch scope := claims["scope"].(type) {
	case []any:
		scopes := make([]string, 0, len(scope))
		for _, s := range scope {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
		return scopes
	case string:
		if scope == "" {
			return nil
		}
		return strings.Fields(scope)
	default:
		return nil
	}
}
