package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"go.uber.org/zap"
)

// LocalStore reads secrets from files under a base directory.
// WARNING: This is for development only. Use AWS Secrets Manager or Vault in production.
//
// A file may hold the plain value or JSON {"value": "...", "previous": "..."}.
type LocalStore struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalStore creates a new local filesystem secret store
func NewLocalStore(basePath string, logger *zap.Logger) *LocalStore {
	return &LocalStore{basePath: basePath, logger: logger}
}

type localSecretFile struct {
	Value    string `json:"value"`
	Previous string `json:"previous"`
}

func (m *LocalStore) read(secretPath string) (*localSecretFile, error) {
	filePath := filepath.Join(m.basePath, filepath.Clean("/"+secretPath))

	m.logger.Debug("Reading secret from filesystem", zap.String("path", secretPath))

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret not found: %s", secretPath)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	var file localSecretFile
	if err := json.Unmarshal(data, &file); err == nil && file.Value != "" {
		return &file, nil
	}
	return &localSecretFile{Value: strings.TrimSpace(string(data))}, nil
}

// GetSecret implements ports.SecretStore
func (m *LocalStore) GetSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	file, err := m.read(secretPath)
	if err != nil {
		return nil, err
	}
	return &ports.Secret{Value: file.Value, Version: "current"}, nil
}

// GetPreviousSecret implements ports.SecretStore
func (m *LocalStore) GetPreviousSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	file, err := m.read(secretPath)
	if err != nil {
		return nil, err
	}
	if file.Previous == "" {
		return nil, nil
	}
	return &ports.Secret{Value: file.Previous, Version: "previous"}, nil
}

var _ ports.SecretStore = (*LocalStore)(nil)
