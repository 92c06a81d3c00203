package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kevin07696/payment-orchestrator/internal/domain/ports"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type walletServer struct {
	tokenCalls int32
	handler    http.HandlerFunc
}

func setupWalletTest(t *testing.T, handler http.HandlerFunc) (*Client, *walletServer) {
	t.Helper()
	ws := &walletServer{handler: handler}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/oauth2/token" {
			atomic.AddInt32(&ws.tokenCalls, 1)
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client-id", user)
			assert.Equal(t, "client-secret", pass)
			writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "tok", "expires_in": 3600})
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		ws.handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:      server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		BrandName:    "Shop",
		Timeout:      5 * time.Second,
	}, nil, zaptest.NewLogger(t))
	return client, ws
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestClient_CreateOrder(t *testing.T) {
	client, ws := setupWalletTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders", r.URL.Path)
		assert.Equal(t, "req-1", r.Header.Get("PayPal-Request-Id"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "CAPTURE", body["intent"])
		units := body["purchase_units"].([]interface{})
		unit := units[0].(map[string]interface{})
		assert.Equal(t, "order-1", unit["reference_id"])
		assert.Equal(t, map[string]interface{}{"currency_code": "EUR", "value": "49.99"}, unit["amount"])
		assert.NotNil(t, unit["shipping"])

		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id": "WO-1", "status": "CREATED",
			"links": []map[string]string{
				{"rel": "self", "href": "https://wallet.example/v2/checkout/orders/WO-1"},
				{"rel": "approve", "href": "https://wallet.example/checkoutnow?token=WO-1"},
			},
		})
	})

	order, err := client.CreateOrder(context.Background(), ports.WalletOrderParams{
		ReferenceID: "order-1",
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    "eur",
		ReturnURL:   "https://shop.example/return",
		CancelURL:   "https://shop.example/cancel",
		Shipping:    &ports.ShippingAddress{FullName: "Ada", AddressLine1: "1 Main", City: "Berlin", PostalCode: "10115", CountryCode: "DE"},
	}, "req-1")

	require.NoError(t, err)
	assert.Equal(t, "WO-1", order.ID)
	assert.Equal(t, "https://wallet.example/checkoutnow?token=WO-1", order.ApprovalURL)

	_, err = client.GetOrder(context.Background(), "WO-1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ws.tokenCalls), "token is cached")
}

func TestClient_CaptureOrder(t *testing.T) {
	client, _ := setupWalletTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/checkout/orders/WO-1/capture", r.URL.Path)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"id": "WO-1", "status": "COMPLETED",
			"purchase_units": []map[string]interface{}{{
				"reference_id": "order-1",
				"amount":       map[string]string{"currency_code": "EUR", "value": "49.99"},
				"payments": map[string]interface{}{
					"captures": []map[string]interface{}{{"id": "CAP-1", "status": "COMPLETED"}},
				},
			}},
		})
	})

	order, err := client.CaptureOrder(context.Background(), "WO-1", "req-2")
	require.NoError(t, err)
	assert.Equal(t, "CAP-1", order.CaptureID)
	assert.Equal(t, "COMPLETED", order.EffectiveStatus())
	assert.True(t, decimal.RequireFromString("49.99").Equal(order.Amount))
}

func TestClient_AlreadyCaptured(t *testing.T) {
	client, _ := setupWalletTest(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"name":     "UNPROCESSABLE_ENTITY",
			"debug_id": "dbg-1",
			"details":  []map[string]string{{"issue": ErrCodeAlreadyCaptured}},
		})
	})

	_, err := client.CaptureOrder(context.Background(), "WO-1", "req-3")
	var gwErr *pkgerrors.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, ErrCodeAlreadyCaptured, gwErr.Code)
	assert.Equal(t, pkgerrors.CategoryInvalidRequest, gwErr.Category)
}

func TestClient_InstrumentDeclined(t *testing.T) {
	client, _ := setupWalletTest(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"details": []map[string]string{{"issue": "INSTRUMENT_DECLINED"}},
		})
	})

	_, err := client.CaptureOrder(context.Background(), "WO-1", "req-4")
	assert.Equal(t, pkgerrors.CategoryCardDeclined, pkgerrors.Classify(err))
}

func TestDecodeEvent(t *testing.T) {
	captureEvent := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource_type":"capture",
		"resource":{"id":"CAP-1","supplementary_data":{"related_ids":{"order_id":"WO-1"}}}}`)
	event, err := DecodeEvent(captureEvent)
	require.NoError(t, err)
	assert.Equal(t, "WO-1", event.ProviderOrderID)

	approved := []byte(`{"id":"WH-2","event_type":"CHECKOUT.ORDER.APPROVED","resource_type":"checkout-order","resource":{"id":"WO-2"}}`)
	event, err = DecodeEvent(approved)
	require.NoError(t, err)
	assert.Equal(t, "WO-2", event.ProviderOrderID)
}
