package secret

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/keywheel/keywheel"
)

const defaultEnvPrefix = "KEYWHEEL"

// EnvResolver resolves secrets from environment variables named
// PREFIX_<ID>, with the credential id uppercased and non-alphanumeric
// characters mapped to underscores.
type EnvResolver struct {
	prefix string
}

var _ keywheel.Resolver = (*EnvResolver)(nil)

// NewEnvResolver creates an EnvResolver. An empty prefix uses "KEYWHEEL".
func NewEnvResolver(prefix string) *EnvResolver {
	if prefix == "" {
		prefix = defaultEnvPrefix
	}
	return &EnvResolver{prefix: prefix}
}

// Resolve looks the secret up in the process environment.
func (r *EnvResolver) Resolve(_ context.Context, credentialID string) (string, error) {
	name := r.varName(credentialID)
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return "", fmt.Errorf("env %s: %w", name, keywheel.ErrSecretNotFound)
	}
	return v, nil
}

// Name returns "env".
func (r *EnvResolver) Name() string { return "env" }

func (r *EnvResolver) varName(credentialID string) string {
	mapped := strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z':
			return c - 'a' + 'A'
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		default:
			return '_'
		}
	}, credentialID)
	return r.prefix + "_" + mapped
}
