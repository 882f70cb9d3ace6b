package solidapi

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Secret is a named credential fetched from the secrets store. The value is
// owned by the [SecretProvider]; it changes only through a re-fetch.
type Secret struct {
	Name      string
	Value     string
	FetchedAt time.Time
}

// SecretReader abstracts secret retrieval for testability and flexibility.
type SecretReader interface {
	GetSecretString(ctx context.Context, secretID string) (string, error)
}

// AWSSecretReader implements SecretReader using AWS Secrets Manager.
type AWSSecretReader struct {
	client *secretsmanager.Client
}

// NewAWSSecretReader creates a new AWSSecretReader using the provided AWS config.
// Point the config at a mocked endpoint (SOLID_AWS_ENDPOINT) for local testing.
func NewAWSSecretReader(cfg aws.Config) *AWSSecretReader {
	return &AWSSecretReader{client: secretsmanager.NewFromConfig(cfg)}
}

// GetSecretString retrieves a secret value from AWS Secrets Manager.
func (r *AWSSecretReader) GetSecretString(ctx context.Context, secretID string) (string, error) {
	out, err := r.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to get secret %q", secretID)
	}
	if out.SecretString == nil {
		return "", errors.Errorf("secret %q has no string value", secretID)
	}
	return *out.SecretString, nil
}

// fetch retry policy: at most three attempts within a ten second budget.
// Both bounds apply so a slow backend cannot stretch the retries past the
// time budget, and a fast-failing one cannot burn the budget on attempts.
const (
	secretFetchMaxRetries = 2 // retries after the first attempt
	secretFetchTimeBudget = 10 * time.Second
	secretInitialBackoff  = 100 * time.Millisecond
)

// SecretProvider caches secrets from a SecretReader with TTL expiry and
// explicit invalidation. Concurrent Get calls for the same name share one
// in-flight fetch, so a burst of requests cannot exhaust the secret store's
// rate limits.
type SecretProvider struct {
	reader SecretReader
	ttl    time.Duration
	tracer trace.Tracer

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]Secret
	// gens invalidation generation per name; a fetch only caches its result
	// when no Invalidate happened while it was in flight.
	gens map[string]uint64

	now func() time.Time
}

// NewSecretProvider creates a provider over the given reader. Entries expire
// after ttl; Invalidate forces an earlier re-fetch.
func NewSecretProvider(reader SecretReader, ttl time.Duration, tp trace.TracerProvider) *SecretProvider {
	return &SecretProvider{
		reader: reader,
		ttl:    ttl,
		tracer: tp.Tracer(tracerName),
		cache:  make(map[string]Secret),
		gens:   make(map[string]uint64),
		now:    time.Now,
	}
}

// Get returns the secret for name, fetching it from the backing store on a
// cache miss or TTL expiry. Fetch failures are retried with bounded
// exponential backoff before being surfaced marked [ErrSecretUnavailable].
func (p *SecretProvider) Get(ctx context.Context, name string) (Secret, error) {
	if secret, ok := p.cached(name); ok {
		return secret, nil
	}

	v, err, _ := p.group.Do(name, func() (any, error) {
		// The losing callers of a concurrent burst land here after the winner
		// already populated the cache.
		if secret, ok := p.cached(name); ok {
			return secret, nil
		}
		return p.fetch(ctx, name)
	})
	if err != nil {
		return Secret{}, err
	}

	return v.(Secret), nil
}

// GetString returns the secret value, optionally extracting a JSON path.
// If jsonPath is provided, the value is parsed as JSON and the path is
// extracted using gjson syntax. If jsonPath is empty, the raw value is
// returned.
func (p *SecretProvider) GetString(ctx context.Context, name string, jsonPath ...string) (string, error) {
	if len(jsonPath) > 1 {
		return "", errors.New("solidapi: GetString accepts at most one jsonPath argument")
	}

	secret, err := p.Get(ctx, name)
	if err != nil {
		return "", err
	}

	if len(jsonPath) == 0 || jsonPath[0] == "" {
		return secret.Value, nil
	}

	path := jsonPath[0]
	result := gjson.Get(secret.Value, path)
	if !result.Exists() {
		return "", errors.Errorf("secret path %q not found in secret %q", path, name)
	}

	return result.String(), nil
}

// Invalidate drops the cached entry so the next Get re-fetches from the
// store. Bumping the generation also discards the result of any fetch that is
// in flight right now, since its value may predate the invalidation.
func (p *SecretProvider) Invalidate(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, name)
	p.gens[name]++
}

func (p *SecretProvider) cached(name string) (Secret, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	secret, ok := p.cache[name]
	if !ok || p.now().Sub(secret.FetchedAt) >= p.ttl {
		return Secret{}, false
	}

	return secret, true
}

// fetch retrieves the secret from the backing store with bounded retries and
// records the fetch as a child span. The span never carries the secret value.
func (p *SecretProvider) fetch(ctx context.Context, name string) (Secret, error) {
	ctx, span := p.tracer.Start(ctx, "secrets.fetch",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	p.mu.RLock()
	gen := p.gens[name]
	p.mu.RUnlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = secretInitialBackoff
	policy.MaxElapsedTime = secretFetchTimeBudget

	var value string
	err := backoff.Retry(func() error {
		var ferr error
		value, ferr = p.reader.GetSecretString(ctx, name)
		return ferr
	}, backoff.WithContext(backoff.WithMaxRetries(policy, secretFetchMaxRetries), ctx))
	if err != nil {
		span.SetStatus(codes.Error, "fetch failed")
		span.SetAttributes(attribute.String("error.kind", "secret_unavailable"))
		return Secret{}, errors.Mark(errors.Wrapf(err, "failed to fetch secret %q", name), ErrSecretUnavailable)
	}

	secret := Secret{Name: name, Value: value, FetchedAt: p.now()}

	p.mu.Lock()
	if p.gens[name] == gen {
		p.cache[name] = secret
	}
	p.mu.Unlock()

	return secret, nil
}
