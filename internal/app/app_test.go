package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kevin07696/payment-orchestrator/internal/adapters/secrets"
	"github.com/kevin07696/payment-orchestrator/internal/auth"
	"github.com/kevin07696/payment-orchestrator/internal/config"
	"github.com/kevin07696/payment-orchestrator/internal/services/reconciliation"
	"github.com/kevin07696/payment-orchestrator/pkg/observability"
)

func TestClose_ReverseOrder(t *testing.T) {
	var order []string
	a := &App{}
	a.onClose(func() error { order = append(order, "pool"); return nil })
	a.onClose(func() error { order = append(order, "redis"); return errors.New("redis: closed") })
	a.onClose(func() error { order = append(order, "queue"); return nil })

	err := a.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: closed")
	assert.Equal(t, []string{"queue", "redis", "pool"}, order)

	// closers are released once
	require.NoError(t, a.Close())
	assert.Len(t, order, 3)
}

func TestWalletAPI_DisabledIsNilInterface(t *testing.T) {
	a := &App{}
	assert.True(t, a.walletAPI() == nil)
}

func TestCallerKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/payment-methods", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	assert.Equal(t, "ip:203.0.113.7", callerKey(r))

	r = r.WithContext(auth.WithUser(r.Context(), "user-42", "jti-1"))
	assert.Equal(t, "user:user-42", callerKey(r))
}

func TestHealthBridge(t *testing.T) {
	healthy := observability.NewHealthChecker().
		AddCheck("database", func(context.Context) error { return nil })
	failing := observability.NewHealthChecker().
		AddCheck("database", func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name    string
		checker *observability.HealthChecker
		service string
		want    grpchealth.Status
	}{
		{"overall serving", healthy, "", grpchealth.StatusServing},
		{"named service serving", healthy, HealthServiceName, grpchealth.StatusServing},
		{"dependency down", failing, HealthServiceName, grpchealth.StatusNotServing},
		{"unknown service", healthy, "other.v1", grpchealth.StatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &healthBridge{checker: tt.checker}
			resp, err := bridge.Check(context.Background(), &grpchealth.CheckRequest{Service: tt.service})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Status)
		})
	}
}

func TestSweepSchedules(t *testing.T) {
	a := &App{Config: &config.Config{Reconciliation: config.ReconciliationConfig{
		RetryCron:         "*/15 * * * *",
		PaymentStatusCron: "*/30 * * * *",
		DisputeCron:       "0 * * * *",
		PurgeCron:         "0 3 * * *",
		SweepTaskTimeout:  10 * time.Minute,
	}}}

	schedules := a.SweepSchedules()
	require.Len(t, schedules, len(reconciliation.Sweeps()))

	crons := make(map[string]string, len(schedules))
	for _, s := range schedules {
		assert.Equal(t, 10*time.Minute, s.Timeout)
		crons[s.Sweep] = s.Cron
	}
	assert.Equal(t, "*/15 * * * *", crons[reconciliation.SweepRetry])
	assert.Equal(t, "*/30 * * * *", crons[reconciliation.SweepPaymentStatus])
	assert.Equal(t, "0 * * * *", crons[reconciliation.SweepDispute])
	assert.Equal(t, "0 3 * * *", crons[reconciliation.SweepPurgeLedger])
}

func TestResolveSecret(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "card"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "card", "api_key"), []byte("sk_live_abc\n"), 0o600))
	store := secrets.NewLocalStore(dir, zaptest.NewLogger(t))
	ctx := context.Background()

	value, err := resolveSecret(ctx, store, "inline-key", "")
	require.NoError(t, err)
	assert.Equal(t, "inline-key", value)

	value, err = resolveSecret(ctx, store, "inline-key", "card/api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk_live_abc", value)

	_, err = resolveSecret(ctx, store, "", "card/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "card/missing")
}

func TestNewSecretStore_UnknownBackend(t *testing.T) {
	_, err := newSecretStore(context.Background(), config.SecretsConfig{Backend: "gcp"}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))

	logger, err = NewLogger(config.LoggerConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(0))

	_, err = NewLogger(config.LoggerConfig{Level: "loud"})
	require.Error(t, err)
}
