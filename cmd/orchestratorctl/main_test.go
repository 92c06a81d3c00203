package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kevin07696/payment-orchestrator/internal/auth"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.OperationType
		wantErr bool
	}{
		{in: "CREATE_REFUND", want: domain.OperationCreateRefund},
		{in: "create-refund", want: domain.OperationCreateRefund},
		{in: "wallet_capture_order", want: domain.OperationWalletCaptureOrder},
		{in: "CHARGE", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			op, err := parseOperation(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, op)
		})
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("JWT_ISSUER", "")
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "user-1", "--role", "admin", "--secret", "s3cret"})

	require.NoError(t, root.Execute())

	claims, err := auth.NewTokenVerifier("s3cret", "").ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
}

func TestTokenCmd_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "user-1"})

	assert.Error(t, root.Execute())
}

func TestSweepCmd_RejectsUnknownSweep(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"sweep", "nightly"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sweep")
}
