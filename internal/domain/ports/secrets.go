package ports

import "context"

// Secret is one version of a stored secret value.
type Secret struct {
	Value   string
	Version string
}

// SecretStore resolves gateway credentials and webhook signing secrets.
// Path format depends on the backend:
//   - AWS: "payment-orchestrator/card/webhook-secret"
//   - Vault: "payment-orchestrator/card" under the configured KV v2 mount
//   - Local: a file path relative to the base directory
type SecretStore interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
	// GetPreviousSecret returns the version before the current one, or nil when there is none.
	// Webhook verification accepts it while a rotation is in progress.
	GetPreviousSecret(ctx context.Context, path string) (*Secret, error)
}
