// Package secret provides the pluggable backends keywheel resolves credential
// secrets from. The active backend is chosen once at startup from a single
// configuration value; callers only ever see the Resolver interface.
package secret

import (
	"context"
	"fmt"

	"github.com/keywheel/keywheel"
)

// New builds the resolver named by the configuration.
func New(ctx context.Context, cfg keywheel.SecretConfig) (keywheel.Resolver, error) {
	switch cfg.Backend {
	case "", "env":
		return NewEnvResolver(cfg.EnvPrefix), nil
	case "vault":
		return NewVaultResolver(cfg.Vault)
	case "aws":
		return NewAWSResolver(ctx, cfg.AWS)
	default:
		return nil, fmt.Errorf("keywheel: unknown secret backend %q", cfg.Backend)
	}
}
