// Package secrets implements the Secret Source (spec §4.1): a read-only
// mapping from a logical secret name to its value, sourced from the
// process environment. The fleet scheduler's preflight resolves every
// referenced name; a host workflow resolves its API token id/secret again
// when it opens its API client.
package secrets

import (
	"fmt"
	"os"

	"github.com/nexops/pvefleet/pkg/ferrors"
	"github.com/nexops/pvefleet/pkg/types"
)

// Source resolves secret names to values. The zero value reads from the
// process environment and is safe for concurrent use — it holds no state
// of its own.
type Source struct{}

// New returns an environment-backed Source.
func New() Source {
	return Source{}
}

// Resolve looks up name in the environment. It never logs or returns the
// value through any channel other than its direct return — callers must
// not log resolved values (Testable Property 2).
func (Source) Resolve(name types.SecretName) (string, error) {
	if name == "" {
		return "", fmt.Errorf("resolve %q: %w", string(name), ferrors.ErrCredentialMissing)
	}
	value, ok := os.LookupEnv(string(name))
	if !ok {
		return "", fmt.Errorf("resolve %q: %w", string(name), ferrors.ErrCredentialMissing)
	}
	return value, nil
}
