// Package secrets resolves secret references embedded in configuration
// values, e.g. connection strings. A reference has the form
// "<provider>://<ref>"; values without a known provider scheme are returned
// as-is.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSecretNotFound indicates the referenced secret could not be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver fetches secret values from one backend. Implementations must be
// safe for concurrent use.
type Resolver interface {
	// Name returns the provider scheme (e.g. "env", "file", "vault").
	Name() string

	// Resolve fetches the secret value for the given reference.
	Resolve(ctx context.Context, ref string) (string, error)
}

// Registry routes secret references to their provider.
type Registry struct {
	resolvers map[string]Resolver
	mu        sync.RWMutex
}

// NewRegistry creates a registry with the env and file providers installed.
func NewRegistry() *Registry {
	r := &Registry{resolvers: make(map[string]Resolver)}
	r.Register(&envResolver{})
	r.Register(&fileResolver{})
	return r
}

// Register adds or replaces a resolver.
func (r *Registry) Register(res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[res.Name()] = res
}

// Resolve expands a value. "provider://ref" is routed to the provider;
// anything else is returned unchanged.
func (r *Registry) Resolve(ctx context.Context, value string) (string, error) {
	scheme, ref, ok := strings.Cut(value, "://")
	if !ok {
		return value, nil
	}
	r.mu.RLock()
	res := r.resolvers[scheme]
	r.mu.RUnlock()
	if res == nil {
		// Unknown scheme: treat as a literal (e.g. postgres:// DSNs).
		return value, nil
	}
	resolved, err := res.Resolve(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s secret %q: %w", scheme, ref, err)
	}
	return resolved, nil
}
