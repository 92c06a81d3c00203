package card

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupCardTest(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultConfig()
	config.BaseURL = server.URL
	config.APIKey = "sk_test_123"
	config.Breaker = resilience.CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, MaxRequestsHalfOpen: 1}

	return NewClient(config, &http.Client{Timeout: 5 * time.Second}, zaptest.NewLogger(t))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestClient_CreateIntent(t *testing.T) {
	client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(4999), body["amount"])
		assert.Equal(t, "eur", body["currency"])
		assert.Equal(t, map[string]interface{}{"order_id": "100"}, body["metadata"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "pi_1", "status": "requires_payment_method", "amount": 4999, "currency": "eur",
			"client_secret": "pi_1_secret", "metadata": map[string]string{"order_id": "100"},
		})
	})

	intent, err := client.CreateIntent(context.Background(), ports.IntentParams{
		AmountMinor: 4999,
		Currency:    "eur",
		Metadata:    map[string]string{"order_id": "100"},
	}, "key-1")

	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ID)
	assert.Equal(t, "requires_payment_method", intent.Status)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)
	assert.Equal(t, "100", intent.Metadata["order_id"])
}

func TestClient_DeclineIsClassified(t *testing.T) {
	client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents/pi_1/confirm", r.URL.Path)
		w.Header().Set("Request-Id", "req_42")
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error": map[string]string{
				"type": "card_error", "code": "card_declined", "decline_code": "insufficient_funds",
				"message": "Your card has insufficient funds.",
			},
		})
	})

	_, err := client.ConfirmIntent(context.Background(), "pi_1", "pm_1", "key-1")
	require.Error(t, err)

	var gwErr *pkgerrors.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, pkgerrors.CategoryCardDeclined, gwErr.Category)
	assert.Equal(t, pkgerrors.DeclineInsufficientFunds, gwErr.Decline)
	assert.Equal(t, "req_42", gwErr.RequestID)
	assert.Equal(t, http.StatusPaymentRequired, gwErr.StatusCode)
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		errType string
		want    pkgerrors.ErrorCategory
	}{
		{"rate limited", http.StatusTooManyRequests, "", pkgerrors.CategoryRateLimited},
		{"server error", http.StatusBadGateway, "api_error", pkgerrors.CategoryAPIError},
		{"unauthorized", http.StatusUnauthorized, "", pkgerrors.CategoryAuthentication},
		{"bad request", http.StatusBadRequest, "invalid_request_error", pkgerrors.CategoryInvalidRequest},
		{"idempotency mismatch", http.StatusBadRequest, "idempotency_error", pkgerrors.CategoryIdempotency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, map[string]interface{}{
					"error": map[string]string{"type": tt.errType, "message": "nope"},
				})
			})
			_, err := client.RetrieveIntent(context.Background(), "pi_1")
			assert.Equal(t, tt.want, pkgerrors.Classify(err))
		})
	}
}

func TestClient_BreakerOpensOnTransientFailures(t *testing.T) {
	calls := 0
	client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{})
	})

	for i := 0; i < 3; i++ {
		_, _ = client.RetrieveIntent(context.Background(), "pi_1")
	}

	_, err := client.RetrieveIntent(context.Background(), "pi_1")
	assert.ErrorIs(t, err, pkgerrors.ErrCircuitOpen)
	assert.Equal(t, 2, calls)
	assert.Equal(t, pkgerrors.CategoryNetworkError, pkgerrors.Classify(err))
}

func TestClient_CreateRefund(t *testing.T) {
	client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "pi_1", body["payment_intent"])
		assert.Equal(t, float64(1000), body["amount"])
		assert.Equal(t, "requested_by_customer", body["reason"])

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "re_1", "payment_intent": "pi_1", "status": "succeeded", "amount": 1000, "currency": "eur",
		})
	})

	refund, err := client.CreateRefund(context.Background(), ports.RefundParams{
		IntentID: "pi_1", AmountMinor: 1000, Reason: "requested_by_customer",
	}, "key-r")
	require.NoError(t, err)
	assert.Equal(t, "re_1", refund.ID)
	assert.Equal(t, "succeeded", refund.Status)
}

func TestClient_RetrieveDisputeDeadline(t *testing.T) {
	due := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id": "dp_1", "payment_intent": "pi_1", "status": "needs_response", "amount": 4999, "currency": "eur",
			"evidence_details": map[string]interface{}{"due_by": due.Unix(), "submission_count": 0},
		})
	})

	d, err := client.RetrieveDispute(context.Background(), "dp_1")
	require.NoError(t, err)
	require.NotNil(t, d.EvidenceDueBy)
	assert.True(t, due.Equal(*d.EvidenceDueBy))
}

func TestClient_CreateEvidenceFile(t *testing.T) {
	client := setupCardTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "dispute_evidence", r.FormValue("purpose"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "receipt.pdf", header.Filename)

		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "file_1", "size": 3})
	})

	file, err := client.CreateEvidenceFile(context.Background(), ports.FileParams{
		FileName: "receipt.pdf", ContentType: "application/pdf", Data: []byte("pdf"),
	})
	require.NoError(t, err)
	assert.Equal(t, "file_1", file.ID)
}

func TestDecodeEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","created":1700000000,
		"data":{"object":{"id":"pi_1","status":"succeeded","amount":4999,"currency":"eur","metadata":{"order_id":"100"}}}}`)

	event, err := DecodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	require.NotNil(t, event.Intent)
	assert.Equal(t, "succeeded", event.Intent.Status)
	assert.Nil(t, event.Refund)

	disputePayload := []byte(`{"id":"evt_2","type":"charge.dispute.created","created":1700000000,
		"data":{"object":{"id":"dp_1","payment_intent":"pi_1","status":"needs_response"}}}`)
	event, err = DecodeEvent(disputePayload)
	require.NoError(t, err)
	require.NotNil(t, event.Dispute)
	assert.Equal(t, "pi_1", event.Dispute.IntentID)

	_, err = DecodeEvent([]byte(`{"type":"x"}`))
	assert.Error(t, err)
}
