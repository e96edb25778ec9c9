package keywheel

import "context"

// Resolver resolves a credential id to its secret material.
// Implementations must be safe for concurrent use and must not cache:
// a fresh lookup is always possible.
type Resolver interface {
	// Resolve returns the secret for the credential, or an error wrapping
	// ErrSecretNotFound when the backend has no entry for it.
	Resolve(ctx context.Context, credentialID string) (string, error)

	// Name returns the backend identifier for logging (never the secret).
	Name() string
}
