package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "postgres")
	t.Setenv("CARD_GATEWAY_API_KEY", "sk_test_123")
	t.Setenv("CARD_WEBHOOK_SECRET", "whsec_current")
	t.Setenv("JWT_SECRET", "jwt-secret")
	t.Setenv("CRON_SECRET", "cron-secret")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 2.0, cfg.Retry.Multiplier)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)
	assert.Equal(t, 24*time.Hour, cfg.Reconciliation.RetryWindow)
	assert.Equal(t, 7*24*time.Hour, cfg.Reconciliation.StatusWindow)
	assert.Equal(t, "*/15 * * * *", cfg.Reconciliation.RetryCron)
	assert.Equal(t, "*/30 * * * *", cfg.Reconciliation.PaymentStatusCron)
	assert.Equal(t, 30*24*time.Hour, cfg.Idempotency.Retention)
	assert.Equal(t, "local", cfg.Secrets.Backend)
	assert.Equal(t, "USD", cfg.Currency)
	assert.False(t, cfg.WalletGateway.Enabled)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("GATEWAY_RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("IDEMPOTENCY_AWAIT_TIMEOUT", "3s")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 3*time.Second, cfg.Idempotency.AwaitTimeout)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_PORT", "not-a-number")
	t.Setenv("WEBHOOK_TOLERANCE", "five minutes")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.Webhook.Tolerance)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing database password",
			env:     map[string]string{"DB_PASSWORD": ""},
			wantErr: "DB_PASSWORD is required",
		},
		{
			name:    "card key may come from the secret store",
			env:     map[string]string{"CARD_GATEWAY_API_KEY": "", "CARD_GATEWAY_API_KEY_PATH": "card/api-key"},
			wantErr: "",
		},
		{
			name:    "missing card key",
			env:     map[string]string{"CARD_GATEWAY_API_KEY": ""},
			wantErr: "CARD_GATEWAY_API_KEY",
		},
		{
			name:    "wallet enabled without credentials",
			env:     map[string]string{"WALLET_GATEWAY_ENABLED": "true"},
			wantErr: "WALLET_GATEWAY_CLIENT_ID is required",
		},
		{
			name:    "unknown secrets backend",
			env:     map[string]string{"SECRETS_BACKEND": "gcp"},
			wantErr: "SECRETS_BACKEND must be one of",
		},
		{
			name:    "retention shorter than retry window",
			env:     map[string]string{"IDEMPOTENCY_RETENTION": "1h"},
			wantErr: "IDEMPOTENCY_RETENTION must cover RETRY_SWEEP_WINDOW",
		},
		{
			name:    "zero attempts",
			env:     map[string]string{"GATEWAY_RETRY_MAX_ATTEMPTS": "0"},
			wantErr: "GATEWAY_RETRY_MAX_ATTEMPTS must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadFromEnv()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5433, User: "app", Password: "pw", Database: "orders", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=app password=pw dbname=orders sslmode=require", db.ConnectionString())
}

func TestLoadDatabaseFromEnv(t *testing.T) {
	t.Setenv("DB_PASSWORD", "")
	_, err := LoadDatabaseFromEnv()
	require.Error(t, err)

	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_NAME", "orchestrator_test")
	db, err := LoadDatabaseFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "orchestrator_test", db.Database)
	assert.Equal(t, 5432, db.Port)
}
