package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"id":"evt_1"}`)

	tests := []struct {
		name    string
		header  string
		secrets []string
		wantErr bool
	}{
		{
			name:    "current secret",
			header:  Sign(payload, "whsec_current", now),
			secrets: []string{"whsec_current", "whsec_old"},
		},
		{
			name:    "previous secret during rotation",
			header:  Sign(payload, "whsec_old", now),
			secrets: []string{"whsec_current", "whsec_old"},
		},
		{
			name:    "unknown secret",
			header:  Sign(payload, "whsec_attacker", now),
			secrets: []string{"whsec_current"},
			wantErr: true,
		},
		{
			name:    "stale timestamp",
			header:  Sign(payload, "whsec_current", now.Add(-6*time.Minute)),
			secrets: []string{"whsec_current"},
			wantErr: true,
		},
		{
			name:    "timestamp within tolerance",
			header:  Sign(payload, "whsec_current", now.Add(-4*time.Minute)),
			secrets: []string{"whsec_current"},
		},
		{
			name:    "missing header",
			header:  "",
			secrets: []string{"whsec_current"},
			wantErr: true,
		},
		{
			name:    "no secrets configured",
			header:  Sign(payload, "whsec_current", now),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(payload, tt.header, tt.secrets, DefaultTolerance, now)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidSignature), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifySignature_TamperedPayload(t *testing.T) {
	now := time.Now()
	header := Sign([]byte(`{"amount":100}`), "whsec", now)
	err := VerifySignature([]byte(`{"amount":1}`), header, []string{"whsec"}, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignature_AcceptsAnyV1Entry(t *testing.T) {
	now := time.Now()
	payload := []byte(`{}`)
	signed := Sign(payload, "whsec_new", now)
	header := signed + ",v1=deadbeef"
	assert.NoError(t, VerifySignature(payload, header, []string{"whsec_new"}, DefaultTolerance, now))
}

type stubSecretStore struct {
	current, previous *ports.Secret
}

func (s stubSecretStore) GetSecret(context.Context, string) (*ports.Secret, error) {
	return s.current, nil
}

func (s stubSecretStore) GetPreviousSecret(context.Context, string) (*ports.Secret, error) {
	return s.previous, nil
}

func TestStoreSecrets(t *testing.T) {
	source := StoreSecrets{
		Store: stubSecretStore{current: &ports.Secret{Value: "new", Version: "2"}, previous: &ports.Secret{Value: "old", Version: "1"}},
		Path:  "payment-orchestrator/card/webhook-secret",
	}
	secrets, err := source.SigningSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, secrets)

	source.Store = stubSecretStore{current: &ports.Secret{Value: "only"}}
	secrets, err = source.SigningSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, secrets)
}
