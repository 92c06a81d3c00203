package secrets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"go.uber.org/zap"
)

// VaultConfig contains configuration for HashiCorp Vault adapter
type VaultConfig struct {
	Address string
	// Authentication method: "token" or "approle"
	AuthMethod string
	Token      string
	RoleID     string
	SecretID   string
	// Vault namespace (Vault Enterprise)
	Namespace string
	// KV v2 secrets engine mount path (default: "secret")
	MountPath string
	// Key inside the secret data holding the value (default: "value")
	ValueKey string
	CacheTTL time.Duration
}

// VaultStore implements ports.SecretStore on a KV v2 engine.
// The previous secret is the version immediately before the current one.
type VaultStore struct {
	kv       *vault.KVv2
	valueKey string
	logger   *zap.Logger
	cache    *secretCache
}

// NewVaultStore creates a Vault client and authenticates it.
func NewVaultStore(ctx context.Context, cfg VaultConfig, logger *zap.Logger) (*VaultStore, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	if err := authenticateVault(ctx, client, cfg); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Vault: %w", err)
	}

	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}
	valueKey := cfg.ValueKey
	if valueKey == "" {
		valueKey = "value"
	}

	logger.Info("Vault backend initialized",
		zap.String("address", cfg.Address),
		zap.String("auth_method", cfg.AuthMethod),
		zap.String("mount_path", mount),
	)

	return &VaultStore{
		kv:       client.KVv2(mount),
		valueKey: valueKey,
		logger:   logger,
		cache:    newSecretCache(cfg.CacheTTL),
	}, nil
}

func authenticateVault(ctx context.Context, client *vault.Client, cfg VaultConfig) error {
	switch cfg.AuthMethod {
	case "", "token":
		if cfg.Token == "" {
			return fmt.Errorf("token is required for token auth")
		}
		client.SetToken(cfg.Token)
		return nil

	case "approle":
		if cfg.RoleID == "" || cfg.SecretID == "" {
			return fmt.Errorf("role_id and secret_id are required for AppRole auth")
		}
		resp, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]interface{}{
			"role_id":   cfg.RoleID,
			"secret_id": cfg.SecretID,
		})
		if err != nil {
			return fmt.Errorf("AppRole login failed: %w", err)
		}
		if resp == nil || resp.Auth == nil {
			return fmt.Errorf("AppRole login returned no auth info")
		}
		client.SetToken(resp.Auth.ClientToken)
		return nil

	default:
		return fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}
}

// GetSecret reads the latest version.
func (v *VaultStore) GetSecret(ctx context.Context, path string) (*ports.Secret, error) {
	if cached := v.cache.get(path); cached != nil {
		return cached, nil
	}

	kvSecret, err := v.kv.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s from Vault: %w", path, err)
	}
	secret, err := v.toSecret(kvSecret)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", path, err)
	}
	v.cache.set(path, secret)
	return secret, nil
}

// GetPreviousSecret reads version current-1, or nil when the secret has a single version.
func (v *VaultStore) GetPreviousSecret(ctx context.Context, path string) (*ports.Secret, error) {
	current, err := v.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}
	version, err := strconv.Atoi(current.Version)
	if err != nil || version <= 1 {
		return nil, nil
	}

	key := path + "#" + strconv.Itoa(version-1)
	if cached := v.cache.get(key); cached != nil {
		return cached, nil
	}

	kvSecret, err := v.kv.GetVersion(ctx, path, version-1)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			// destroyed or deleted versions are simply not accepted any more
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read previous secret %s from Vault: %w", path, err)
	}
	secret, err := v.toSecret(kvSecret)
	if err != nil {
		return nil, nil
	}
	v.cache.set(key, secret)
	return secret, nil
}

func (v *VaultStore) toSecret(kvSecret *vault.KVSecret) (*ports.Secret, error) {
	if kvSecret == nil || kvSecret.Data == nil {
		return nil, fmt.Errorf("secret not found")
	}
	value, ok := kvSecret.Data[v.valueKey].(string)
	if !ok || value == "" {
		return nil, fmt.Errorf("secret value %q is empty or not a string", v.valueKey)
	}
	secret := &ports.Secret{Value: value}
	if kvSecret.VersionMetadata != nil {
		secret.Version = strconv.Itoa(kvSecret.VersionMetadata.Version)
	}
	return secret, nil
}

var _ ports.SecretStore = (*VaultStore)(nil)
