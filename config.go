package keywheel

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level credential pool configuration.
type Config struct {
	Credentials []CredentialConfig `yaml:"credentials"`
	Secrets     SecretConfig       `yaml:"secrets"`
	Health      HealthConfig       `yaml:"health"`
	Policy      string             `yaml:"policy"` // "round_robin" (default) or "headroom"

	// DefaultTokenEstimate is reserved against tokens-per-minute limits when
	// the caller does not supply its own estimate. Zero uses a built-in default.
	DefaultTokenEstimate int64 `yaml:"default_token_estimate"`
}

// CredentialConfig describes a single credential in the pool.
// A limit of 0 means unlimited for that resource.
type CredentialConfig struct {
	ID       string   `yaml:"id"`
	Provider string   `yaml:"provider"`
	Tier     string   `yaml:"tier"`
	RPMLimit int64    `yaml:"rpm_limit"`
	TPMLimit int64    `yaml:"tpm_limit"`
	RPDLimit int64    `yaml:"rpd_limit"`
	Tags     []string `yaml:"tags"`
}

// SecretConfig selects the secret backend. Exactly one backend is active for
// the process lifetime.
type SecretConfig struct {
	Backend   string      `yaml:"backend"` // "env" (default), "vault" or "aws"
	EnvPrefix string      `yaml:"env_prefix"`
	Vault     VaultConfig `yaml:"vault"`
	AWS       AWSConfig   `yaml:"aws"`
}

// VaultConfig configures the HashiCorp Vault backend.
type VaultConfig struct {
	Address    string `yaml:"address"`
	Mount      string `yaml:"mount"`       // KV v2 mount, default "secret"
	PathPrefix string `yaml:"path_prefix"` // prepended to the credential id
	Field      string `yaml:"field"`       // data field holding the secret, default "value"
}

// AWSConfig configures the AWS Secrets Manager backend.
type AWSConfig struct {
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"` // prepended to the credential id to form the secret name
}

// HealthConfig tunes failure cooldowns.
type HealthConfig struct {
	BaseBackoff time.Duration `yaml:"base_backoff"` // default 2s
	MaxBackoff  time.Duration `yaml:"max_backoff"`  // default 5m

	// EndCooldownOnSuccess lets a reported success cut an active cooldown
	// short. Off by default: the cooldown is honored until it expires, so a
	// single lucky call cannot restart a thundering herd.
	EndCooldownOnSuccess bool `yaml:"end_cooldown_on_success"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("keywheel: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("keywheel: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Credentials) == 0 {
		return ErrNoCredentials
	}

	ids := make(map[string]bool, len(c.Credentials))
	for i, cred := range c.Credentials {
		if cred.ID == "" {
			return fmt.Errorf("keywheel: config: credential[%d]: id is required", i)
		}
		if ids[cred.ID] {
			return fmt.Errorf("keywheel: config: duplicate credential id %q", cred.ID)
		}
		ids[cred.ID] = true

		if cred.Provider == "" {
			return fmt.Errorf("keywheel: config: credential[%d] (%s): provider is required", i, cred.ID)
		}
		if cred.RPMLimit < 0 || cred.TPMLimit < 0 || cred.RPDLimit < 0 {
			return fmt.Errorf("keywheel: config: credential[%d] (%s): limits must not be negative", i, cred.ID)
		}
	}

	switch c.Secrets.Backend {
	case "", "env", "vault", "aws":
	default:
		return fmt.Errorf("keywheel: config: unknown secret backend %q", c.Secrets.Backend)
	}

	switch c.Policy {
	case "", "round_robin", "headroom":
	default:
		return fmt.Errorf("keywheel: config: unknown policy %q", c.Policy)
	}

	if c.Health.BaseBackoff < 0 || c.Health.MaxBackoff < 0 {
		return fmt.Errorf("keywheel: config: backoff durations must not be negative")
	}
	if c.DefaultTokenEstimate < 0 {
		return fmt.Errorf("keywheel: config: default_token_estimate must not be negative")
	}

	return nil
}
