package solidapitest

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// MapSecretReader is an in-memory solidapi.SecretReader for tests. It is safe
// for concurrent use and supports swapping values to exercise rotation paths.
type MapSecretReader struct {
	mu      sync.RWMutex
	secrets map[string]string

	// Err, when set, is returned by every read. Use it to exercise
	// secret-unavailable paths.
	Err error
}

// NewMapSecretReader creates a reader over the given name to value mapping.
func NewMapSecretReader(secrets map[string]string) *MapSecretReader {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &MapSecretReader{secrets: copied}
}

// GetSecretString implements solidapi.SecretReader.
func (r *MapSecretReader) GetSecretString(_ context.Context, secretID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return "", r.Err
	}

	secret, ok := r.secrets[secretID]
	if !ok {
		return "", errors.Errorf("secret %q not found", secretID)
	}
	return secret, nil
}

// Set stores or replaces a secret value, simulating a rotation in the
// backing store.
func (r *MapSecretReader) Set(name, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[name] = value
}
