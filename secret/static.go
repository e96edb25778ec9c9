package secret

import (
	"context"
	"fmt"

	"github.com/keywheel/keywheel"
)

// StaticResolver serves secrets from a fixed map. Intended for tests and
// examples; production deployments use one of the real backends.
type StaticResolver struct {
	secrets map[string]string
}

var _ keywheel.Resolver = (*StaticResolver)(nil)

// NewStaticResolver creates a StaticResolver over a copy of the given map.
func NewStaticResolver(secrets map[string]string) *StaticResolver {
	copied := make(map[string]string, len(secrets))
	for k, v := range secrets {
		copied[k] = v
	}
	return &StaticResolver{secrets: copied}
}

// Resolve returns the mapped secret.
func (r *StaticResolver) Resolve(_ context.Context, credentialID string) (string, error) {
	v, ok := r.secrets[credentialID]
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", credentialID, keywheel.ErrSecretNotFound)
	}
	return v, nil
}

// Name returns "static".
func (r *StaticResolver) Name() string { return "static" }
