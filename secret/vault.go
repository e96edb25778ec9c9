package secret

import (
	"context"
	"errors"
	"fmt"
	"path"

	vault "github.com/hashicorp/vault/api"

	"github.com/keywheel/keywheel"
)

const (
	defaultVaultMount = "secret"
	defaultVaultField = "value"
)

// VaultResolver resolves secrets from a HashiCorp Vault KV v2 mount. The
// credential id is appended to the configured path prefix, and the secret is
// read from a single data field.
type VaultResolver struct {
	client *vault.Client
	mount  string
	prefix string
	field  string
}

var _ keywheel.Resolver = (*VaultResolver)(nil)

// NewVaultResolver creates a VaultResolver. Address and token come from the
// standard VAULT_ADDR/VAULT_TOKEN environment unless overridden in config.
func NewVaultResolver(cfg keywheel.VaultConfig) (*VaultResolver, error) {
	vcfg := vault.DefaultConfig()
	if cfg.Address != "" {
		vcfg.Address = cfg.Address
	}

	client, err := vault.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("keywheel: vault client: %w", err)
	}

	mount := cfg.Mount
	if mount == "" {
		mount = defaultVaultMount
	}
	field := cfg.Field
	if field == "" {
		field = defaultVaultField
	}

	return &VaultResolver{
		client: client,
		mount:  mount,
		prefix: cfg.PathPrefix,
		field:  field,
	}, nil
}

// Resolve reads the secret from Vault.
func (r *VaultResolver) Resolve(ctx context.Context, credentialID string) (string, error) {
	secretPath := path.Join(r.prefix, credentialID)

	kv, err := r.client.KVv2(r.mount).Get(ctx, secretPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", fmt.Errorf("vault %s/%s: %w", r.mount, secretPath, keywheel.ErrSecretNotFound)
		}
		return "", fmt.Errorf("keywheel: vault read %s/%s: %w", r.mount, secretPath, err)
	}

	v, ok := kv.Data[r.field].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("vault %s/%s field %q: %w", r.mount, secretPath, r.field, keywheel.ErrSecretNotFound)
	}
	return v, nil
}

// Name returns "vault".
func (r *VaultResolver) Name() string { return "vault" }
