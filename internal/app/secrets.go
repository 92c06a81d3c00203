package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kevin07696/payment-orchestrator/internal/adapters/secrets"
	"github.com/kevin07696/payment-orchestrator/internal/config"
	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
)

// newSecretStore selects the backend named by cfg.Backend.
func newSecretStore(ctx context.Context, cfg config.SecretsConfig, logger *zap.Logger) (ports.SecretStore, error) {
	switch cfg.Backend {
	case "aws":
		store, err := secrets.NewAWSSecretsManager(ctx, secrets.AWSConfig{
			Region:   cfg.AWSRegion,
			Profile:  cfg.AWSProfile,
			Endpoint: cfg.AWSEndpoint,
			CacheTTL: cfg.CacheTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("AWS Secrets Manager initialized", zap.String("region", cfg.AWSRegion))
		return store, nil
	case "vault":
		store, err := secrets.NewVaultStore(ctx, secrets.VaultConfig{
			Address:    cfg.VaultAddress,
			AuthMethod: cfg.VaultAuthMethod,
			Token:      cfg.VaultToken,
			RoleID:     cfg.VaultRoleID,
			SecretID:   cfg.VaultSecretID,
			Namespace:  cfg.VaultNamespace,
			MountPath:  cfg.VaultMountPath,
			CacheTTL:   cfg.CacheTTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Vault secret store initialized", zap.String("address", cfg.VaultAddress))
		return store, nil
	case "local", "":
		logger.Warn("Using local file secret store - NOT for production use!",
			zap.String("base_path", cfg.LocalBasePath),
		)
		return secrets.NewLocalStore(cfg.LocalBasePath, logger), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.Backend)
	}
}

// resolveSecret returns the stored value at path when path is set, otherwise inline.
func resolveSecret(ctx context.Context, store ports.SecretStore, inline, path string) (string, error) {
	if path == "" {
		return inline, nil
	}
	secret, err := store.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load secret %s: %w", path, err)
	}
	return secret.Value, nil
}
