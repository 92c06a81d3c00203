package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kevin07696/payment-orchestrator/internal/services/reconciliation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(ctx context.Context, sweep string) (reconciliation.SweepResult, error) {
	args := m.Called(ctx, sweep)
	return args.Get(0).(reconciliation.SweepResult), args.Error(1)
}

func newServer(t *testing.T, runner *mockRunner) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewSweepHandler(runner, zaptest.NewLogger(t), "cron-secret").Register(mux)
	return mux
}

func TestRunSweep(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		secret     string
		bearer     string
		result     reconciliation.SweepResult
		err        error
		callRunner bool
		wantStatus int
	}{
		{
			name: "header secret", method: http.MethodPost, secret: "cron-secret", callRunner: true,
			result:     reconciliation.SweepResult{Sweep: "retry", Scanned: 3, Succeeded: 3},
			wantStatus: http.StatusOK,
		},
		{
			name: "bearer secret", method: http.MethodPost, bearer: "cron-secret", callRunner: true,
			result:     reconciliation.SweepResult{Sweep: "retry"},
			wantStatus: http.StatusOK,
		},
		{
			name: "partial failure", method: http.MethodPost, secret: "cron-secret", callRunner: true,
			result:     reconciliation.SweepResult{Sweep: "retry", Scanned: 2, Succeeded: 1, Failed: 1},
			wantStatus: http.StatusPartialContent,
		},
		{
			name: "unknown sweep", method: http.MethodPost, secret: "cron-secret", callRunner: true,
			err:        fmt.Errorf("%w: %q", reconciliation.ErrUnknownSweep, "retry"),
			wantStatus: http.StatusNotFound,
		},
		{
			name: "sweep error", method: http.MethodPost, secret: "cron-secret", callRunner: true,
			err:        errors.New("database unavailable"),
			wantStatus: http.StatusInternalServerError,
		},
		{name: "wrong secret", method: http.MethodPost, secret: "guess", wantStatus: http.StatusUnauthorized},
		{name: "missing secret", method: http.MethodPost, wantStatus: http.StatusUnauthorized},
		{name: "wrong method", method: http.MethodGet, secret: "cron-secret", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			if tt.callRunner {
				runner.On("Run", mock.Anything, "retry").Return(tt.result, tt.err).Once()
			}

			req := httptest.NewRequest(tt.method, "/cron/sweeps/retry", nil)
			if tt.secret != "" {
				req.Header.Set(HeaderCronSecret, tt.secret)
			}
			if tt.bearer != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearer)
			}
			rec := httptest.NewRecorder()
			newServer(t, runner).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			runner.AssertExpectations(t)
			if !tt.callRunner {
				runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestRunSweep_ReturnsResult(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, reconciliation.SweepPurgeLedger).
		Return(reconciliation.SweepResult{Sweep: reconciliation.SweepPurgeLedger, Purged: 42}, nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/cron/sweeps/purge_ledger", nil)
	req.Header.Set(HeaderCronSecret, "cron-secret")
	rec := httptest.NewRecorder()
	newServer(t, runner).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Success bool                       `json:"success"`
		Result  reconciliation.SweepResult `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, int64(42), body.Result.Purged)
}

func TestListSweeps(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/cron/sweeps", nil)
	req.Header.Set(HeaderCronSecret, "cron-secret")
	rec := httptest.NewRecorder()
	newServer(t, &mockRunner{}).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), reconciliation.SweepPaymentStatus)
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	mux := http.NewServeMux()
	NewSweepHandler(&mockRunner{}, zaptest.NewLogger(t), "").Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/cron/sweeps/retry", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
