package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		setup      func(h *HealthChecker)
		wantStatus string
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:       "all healthy",
			setup:      func(h *HealthChecker) { h.AddCheck("database", ok).AddCheck("redis", ok) },
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"database": "healthy", "redis": "healthy"},
		},
		{
			name:       "one dependency down",
			setup:      func(h *HealthChecker) { h.AddCheck("database", ok).AddCheck("redis", down) },
			wantStatus: "unhealthy",
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"database": "healthy", "redis": "unhealthy: connection refused"},
		},
		{
			name:       "optional dependency absent",
			setup:      func(h *HealthChecker) { h.AddCheck("database", ok).AddCheck("evidence_archive", nil) },
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"database": "healthy", "evidence_archive": "not configured"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker()
			tt.setup(h)

			rec := httptest.NewRecorder()
			h.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var status HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantChecks, status.Checks)
		})
	}
}

func TestHealthChecker_ChecksHaveDeadline(t *testing.T) {
	h := NewHealthChecker().AddCheck("database", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	assert.Equal(t, "healthy", h.Check(context.Background()).Status)
}
