package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/kevin07696/payment-orchestrator/internal/auth"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/middleware"
	"github.com/kevin07696/payment-orchestrator/internal/services/dispute"
	paymentsvc "github.com/kevin07696/payment-orchestrator/internal/services/payment"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment_method"
	"github.com/kevin07696/payment-orchestrator/internal/services/refund"
	"github.com/kevin07696/payment-orchestrator/internal/services/wallet"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const jwtSecret = "handler-test-secret"

// =====================================================
// MOCKS
// =====================================================

type mockIntents struct{ mock.Mock }

func (m *mockIntents) CreateIntent(ctx context.Context, req paymentsvc.CreateIntentRequest) (*paymentsvc.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*paymentsvc.IntentResult)
	return res, args.Error(1)
}

func (m *mockIntents) ConfirmIntent(ctx context.Context, req paymentsvc.ConfirmIntentRequest) (*paymentsvc.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*paymentsvc.IntentResult)
	return res, args.Error(1)
}

func (m *mockIntents) CancelIntent(ctx context.Context, req paymentsvc.CancelIntentRequest) (*paymentsvc.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*paymentsvc.IntentResult)
	return res, args.Error(1)
}

func (m *mockIntents) RetrieveIntent(ctx context.Context, req paymentsvc.RetrieveIntentRequest) (*paymentsvc.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*paymentsvc.IntentResult)
	return res, args.Error(1)
}

type mockRefunds struct{ mock.Mock }

func (m *mockRefunds) CreateRefund(ctx context.Context, req refund.CreateRefundRequest) (*domain.Refund, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.Refund)
	return res, args.Error(1)
}

func (m *mockRefunds) ListRefunds(ctx context.Context, orderID, userID string) ([]*domain.Refund, error) {
	args := m.Called(ctx, orderID, userID)
	res, _ := args.Get(0).([]*domain.Refund)
	return res, args.Error(1)
}

type mockWallet struct{ mock.Mock }

func (m *mockWallet) CreatePayment(ctx context.Context, req wallet.CreatePaymentRequest) (*wallet.CreatePaymentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*wallet.CreatePaymentResult)
	return res, args.Error(1)
}

func (m *mockWallet) CapturePayment(ctx context.Context, req wallet.CapturePaymentRequest) (*wallet.CaptureResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*wallet.CaptureResult)
	return res, args.Error(1)
}

type mockDisputes struct{ mock.Mock }

func (m *mockDisputes) CreateOrUpdateDispute(ctx context.Context, gatewayDisputeID, intentID string) (*domain.Dispute, error) {
	args := m.Called(ctx, gatewayDisputeID, intentID)
	res, _ := args.Get(0).(*domain.Dispute)
	return res, args.Error(1)
}

func (m *mockDisputes) SubmitEvidence(ctx context.Context, req dispute.SubmitEvidenceRequest) (*domain.Dispute, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.Dispute)
	return res, args.Error(1)
}

func (m *mockDisputes) UploadEvidenceFile(ctx context.Context, req dispute.UploadEvidenceRequest) (*dispute.EvidenceFile, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*dispute.EvidenceFile)
	return res, args.Error(1)
}

func (m *mockDisputes) GetDispute(ctx context.Context, id string) (*domain.Dispute, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*domain.Dispute)
	return res, args.Error(1)
}

type mockPaymentMethods struct{ mock.Mock }

func (m *mockPaymentMethods) Attach(ctx context.Context, req payment_method.AttachRequest) (*domain.CustomerPaymentMethod, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.CustomerPaymentMethod)
	return res, args.Error(1)
}

func (m *mockPaymentMethods) SetDefault(ctx context.Context, userID, id string) (*domain.CustomerPaymentMethod, error) {
	args := m.Called(ctx, userID, id)
	res, _ := args.Get(0).(*domain.CustomerPaymentMethod)
	return res, args.Error(1)
}

func (m *mockPaymentMethods) List(ctx context.Context, userID string) ([]*domain.CustomerPaymentMethod, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).([]*domain.CustomerPaymentMethod)
	return res, args.Error(1)
}

func (m *mockPaymentMethods) Detach(ctx context.Context, userID, id string) error {
	return m.Called(ctx, userID, id).Error(0)
}

// =====================================================
// HARNESS
// =====================================================

type apiHarness struct {
	intents  *mockIntents
	refunds  *mockRefunds
	wallet   *mockWallet
	disputes *mockDisputes
	methods  *mockPaymentMethods
	server   http.Handler
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	h := &apiHarness{
		intents:  &mockIntents{},
		refunds:  &mockRefunds{},
		wallet:   &mockWallet{},
		disputes: &mockDisputes{},
		methods:  &mockPaymentMethods{},
	}
	handler := NewHandler(Deps{
		Intents:        h.intents,
		Refunds:        h.refunds,
		Wallet:         h.wallet,
		Disputes:       h.disputes,
		PaymentMethods: h.methods,
		Logger:         logger,
		MaxUploadBytes: 1024,
	})
	mux := runtime.NewServeMux()
	require.NoError(t, handler.Register(mux))

	authn := middleware.NewAuthenticator(auth.NewTokenVerifier(jwtSecret, ""), logger)
	h.server = middleware.RequestContext(authn.RequireUser(mux))

	t.Cleanup(func() {
		h.intents.AssertExpectations(t)
		h.refunds.AssertExpectations(t)
		h.wallet.AssertExpectations(t)
		h.disputes.AssertExpectations(t)
		h.methods.AssertExpectations(t)
	})
	return h
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(jwtSecret, "", userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if _, ok := headers["Authorization"]; !ok {
		req.Header.Set("Authorization", "Bearer "+token(t, "user-1", ""))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

// =====================================================
// TESTS
// =====================================================

func TestCreateIntent_PassesKeyAndUser(t *testing.T) {
	h := newAPI(t)
	h.intents.On("CreateIntent", mock.Anything, paymentsvc.CreateIntentRequest{
		OrderID:         "order-1",
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		PaymentMethodID: "pm_1",
	}).Return(&paymentsvc.IntentResult{
		OrderID:     "order-1",
		IntentID:    "pi_1",
		Status:      "requires_confirmation",
		OrderStatus: domain.OrderStatusProcessing,
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    "USD",
	}, nil).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/orders/order-1/payment-intent",
		map[string]string{"payment_method_id": "pm_1"},
		map[string]string{HeaderIdempotencyKey: "key-1"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res paymentsvc.IntentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "pi_1", res.IntentID)
	assert.Equal(t, domain.OrderStatusProcessing, res.OrderStatus)
	assert.Empty(t, rec.Header().Get(HeaderReplayed))
}

func TestCreateIntent_ReplayIsMarked(t *testing.T) {
	h := newAPI(t)
	h.intents.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&paymentsvc.IntentResult{OrderID: "order-1", IntentID: "pi_1", Replayed: true}, nil).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/orders/order-1/payment-intent", nil,
		map[string]string{HeaderIdempotencyKey: "key-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(HeaderReplayed))
}

func TestRetrieveIntent(t *testing.T) {
	h := newAPI(t)
	h.intents.On("RetrieveIntent", mock.Anything, paymentsvc.RetrieveIntentRequest{OrderID: "order-1", UserID: "user-1"}).
		Return(&paymentsvc.IntentResult{OrderID: "order-1", Status: "succeeded", OrderStatus: domain.OrderStatusPaid}, nil).Once()

	rec := h.do(t, http.MethodGet, "/api/v1/orders/order-1/payment-intent", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_status":"PAID"`)
}

func TestCancelIntent_PassesReason(t *testing.T) {
	h := newAPI(t)
	h.intents.On("CancelIntent", mock.Anything, paymentsvc.CancelIntentRequest{
		OrderID: "order-1", UserID: "user-1", IdempotencyKey: "k", Reason: "changed my mind",
	}).Return(&paymentsvc.IntentResult{OrderID: "order-1", Status: "canceled"}, nil).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/orders/order-1/payment-intent/cancel",
		map[string]string{"reason": "changed my mind"}, map[string]string{HeaderIdempotencyKey: "k"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RequiresBearerToken(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, http.MethodGet, "/api/v1/payment-methods", nil, map[string]string{"Authorization": ""})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(domain.ErrorCodeAuthMissing), decodeError(t, rec).Code)

	rec = h.do(t, http.MethodGet, "/api/v1/payment-methods", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, string(domain.ErrorCodeAuthInvalid), decodeError(t, rec).Code)
}

func TestCreateRefund_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "negative amount", body: `{"amount":"-5"}`},
		{name: "zero amount", body: `{"amount":"0"}`},
		{name: "too many decimals", body: `{"amount":"1.001"}`},
		{name: "unknown reason", body: `{"reason":"because"}`},
		{name: "unknown field", body: `{"amount":"5","currency":"EUR"}`},
		{name: "malformed", body: `{"amount":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPI(t)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/order-1/refunds", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+token(t, "user-1", ""))
			rec := httptest.NewRecorder()
			h.server.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			h.refunds.AssertNotCalled(t, "CreateRefund", mock.Anything, mock.Anything)
		})
	}
}

func TestCreateRefund_PartialAmount(t *testing.T) {
	h := newAPI(t)
	amount := decimal.RequireFromString("10.50")
	h.refunds.On("CreateRefund", mock.Anything, mock.MatchedBy(func(req refund.CreateRefundRequest) bool {
		return req.OrderID == "order-100" && req.UserID == "user-1" && req.IdempotencyKey == "refund-key" &&
			req.Amount != nil && req.Amount.Equal(amount) && req.Reason == domain.RefundReasonRequestedByCustomer
	})).Return(&domain.Refund{
		ID: "rf-local", OrderID: "order-100", GatewayRefundID: "re_1",
		Amount: amount, Currency: "EUR", Status: domain.RefundStatusSucceeded,
	}, nil).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/orders/order-100/refunds",
		map[string]string{"amount": "10.50", "reason": "requested_by_customer"},
		map[string]string{HeaderIdempotencyKey: "refund-key"})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res RefundResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "re_1", res.GatewayRefundID)
	assert.True(t, res.Amount.Equal(amount))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		code     string
		contains string
	}{
		{name: "not found", err: domain.ErrOrderNotFound, status: http.StatusNotFound, code: "ORDER_NOT_FOUND"},
		{name: "precondition", err: domain.Precondition("order is %s", "PAID"), status: http.StatusConflict, code: "PRECONDITION_FAILED"},
		{name: "over refund", err: domain.ErrRefundExceedsRemainder, status: http.StatusConflict, code: "REFUND_EXCEEDS_REMAINDER"},
		{name: "in flight", err: domain.ErrIdempotencyInFlight, status: http.StatusConflict, code: "IDEMPOTENCY_IN_FLIGHT"},
		{name: "validation", err: domain.ErrValidationFailed, status: http.StatusBadRequest, code: "VALIDATION_FAILED"},
		{
			name: "decline",
			err: fmt.Errorf("confirm intent: %w", &pkgerrors.GatewayError{
				Code: "card_declined", Category: pkgerrors.CategoryCardDeclined, Decline: pkgerrors.DeclineInsufficientFunds,
			}),
			status:   http.StatusPaymentRequired,
			code:     "GATEWAY_DECLINED",
			contains: "Insufficient funds",
		},
		{
			name:   "fatal gateway error",
			err:    &pkgerrors.GatewayError{Code: "authentication_error", Category: pkgerrors.CategoryAuthentication},
			status: http.StatusBadGateway,
			code:   "GATEWAY_ERROR",
		},
		{
			name: "retry exhausted",
			err: &resilience.RetryExhaustedError{Operation: "create_intent", Attempts: 3,
				Err: &pkgerrors.GatewayError{Code: "api_error", Category: pkgerrors.CategoryAPIError}},
			status: http.StatusServiceUnavailable,
			code:   "GATEWAY_UNAVAILABLE",
		},
		{name: "unclassified", err: fmt.Errorf("connection reset"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPI(t)
			h.intents.On("ConfirmIntent", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			rec := h.do(t, http.MethodPost, "/api/v1/orders/order-1/payment-intent/confirm", nil, nil)

			assert.Equal(t, tt.status, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, tt.code, detail.Code)
			if tt.contains != "" {
				assert.Contains(t, detail.Message, tt.contains)
			}
			assert.NotContains(t, rec.Body.String(), "connection reset", "internal detail never leaks")
		})
	}
}

func TestWalletPayment_CreateAndCapture(t *testing.T) {
	h := newAPI(t)
	h.wallet.On("CreatePayment", mock.Anything, mock.MatchedBy(func(req wallet.CreatePaymentRequest) bool {
		return req.OrderID == "order-1" && req.ReturnURL == "https://shop.example/return" && req.Shipping != nil
	})).Return(&wallet.CreatePaymentResult{
		OrderID: "order-1", ProviderOrderID: "5O190127TN364715T", ApprovalURL: "https://wallet.example/approve",
		OrderStatus: domain.OrderStatusPendingPayment,
	}, nil).Once()
	h.wallet.On("CapturePayment", mock.Anything, wallet.CapturePaymentRequest{
		OrderID: "order-1", UserID: "user-1", ProviderOrderID: "5O190127TN364715T", IdempotencyKey: "cap-1",
	}).Return(&wallet.CaptureResult{OrderID: "order-1", Status: "COMPLETED", OrderStatus: domain.OrderStatusPaid}, nil).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/orders/order-1/wallet-payment", map[string]interface{}{
		"return_url": "https://shop.example/return",
		"cancel_url": "https://shop.example/cancel",
		"shipping": map[string]string{
			"full_name": "Ada Lovelace", "address_line_1": "1 Main St", "city": "London",
			"postal_code": "N1 9GU", "country_code": "GB",
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "https://wallet.example/approve")

	rec = h.do(t, http.MethodPost, "/api/v1/orders/order-1/wallet-payment/capture",
		map[string]string{"provider_order_id": "5O190127TN364715T"}, map[string]string{HeaderIdempotencyKey: "cap-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"order_status":"PAID"`)
}

func TestWalletPayment_InvalidShipping(t *testing.T) {
	h := newAPI(t)
	rec := h.do(t, http.MethodPost, "/api/v1/orders/order-1/wallet-payment", map[string]interface{}{
		"return_url": "https://shop.example/return",
		"cancel_url": "https://shop.example/cancel",
		"shipping":   map[string]string{"full_name": "Ada", "country_code": "Britain"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWalletRoutes_AbsentWhenDisabled(t *testing.T) {
	handler := NewHandler(Deps{
		Intents: &mockIntents{}, Refunds: &mockRefunds{}, Disputes: &mockDisputes{},
		PaymentMethods: &mockPaymentMethods{}, Logger: zaptest.NewLogger(t),
	})
	mux := runtime.NewServeMux()
	require.NoError(t, handler.Register(mux))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/order-1/wallet-payment", strings.NewReader(`{}`))
	req = req.WithContext(auth.WithUser(req.Context(), "user-1", ""))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDisputeRoutes_RequireAdmin(t *testing.T) {
	h := newAPI(t)

	rec := h.do(t, http.MethodPost, "/api/v1/disputes/sync",
		map[string]string{"gateway_dispute_id": "dp_1", "intent_id": "pi_1"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	h.disputes.On("CreateOrUpdateDispute", mock.Anything, "dp_1", "pi_1").
		Return(&domain.Dispute{ID: "d-1", GatewayDisputeID: "dp_1", Status: domain.DisputeStatusNeedsResponse}, nil).Once()
	rec = h.do(t, http.MethodPost, "/api/v1/disputes/sync",
		map[string]string{"gateway_dispute_id": "dp_1", "intent_id": "pi_1"},
		map[string]string{"Authorization": "Bearer " + token(t, "ops-1", auth.RoleAdmin)})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"NEEDS_RESPONSE"`)
}

func TestSubmitEvidence_ClosedWindowIsConflict(t *testing.T) {
	h := newAPI(t)
	h.disputes.On("SubmitEvidence", mock.Anything, mock.MatchedBy(func(req dispute.SubmitEvidenceRequest) bool {
		return req.DisputeID == "d-1" && req.Submit && req.Evidence.UncategorizedText == "tracking attached"
	})).Return(nil, domain.ErrEvidenceWindowClosed).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/disputes/d-1/evidence", map[string]interface{}{
		"evidence": map[string]string{"uncategorized_text": "tracking attached"},
		"submit":   true,
	}, map[string]string{"Authorization": "Bearer " + token(t, "ops-1", auth.RoleAdmin)})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DISPUTE_EVIDENCE_CLOSED", decodeError(t, rec).Code)
}

func multipartUpload(t *testing.T, fileName, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadEvidenceFile(t *testing.T) {
	h := newAPI(t)
	data := []byte("%PDF-1.4 receipt")
	h.disputes.On("UploadEvidenceFile", mock.Anything, dispute.UploadEvidenceRequest{
		DisputeID: "d-1", FileName: "receipt.pdf", ContentType: "application/pdf", Data: data,
	}).Return(&dispute.EvidenceFile{FileID: "file_1", ArchiveKey: "disputes/d-1/receipt.pdf", Size: int64(len(data))}, nil).Once()

	body, contentType := multipartUpload(t, "../../receipt.pdf", "application/pdf", data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/disputes/d-1/files", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token(t, "ops-1", auth.RoleAdmin))
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "file_1")
}

func TestUploadEvidenceFile_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		data        []byte
	}{
		{name: "unsupported type", contentType: "text/html", data: []byte("<html>")},
		{name: "too large", contentType: "image/png", data: bytes.Repeat([]byte("x"), 4096)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPI(t)
			body, contentType := multipartUpload(t, "evidence", tt.contentType, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/disputes/d-1/files", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+token(t, "ops-1", auth.RoleAdmin))
			rec := httptest.NewRecorder()
			h.server.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestPaymentMethods(t *testing.T) {
	h := newAPI(t)
	pm := &domain.CustomerPaymentMethod{
		ID: "pm-local", UserID: "user-1", GatewayPaymentMethodID: "pm_card_visa",
		Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030, IsDefault: true,
	}
	h.methods.On("Attach", mock.Anything, payment_method.AttachRequest{
		UserID: "user-1", GatewayPaymentMethodID: "pm_card_visa", MakeDefault: true, IdempotencyKey: "attach-1",
	}).Return(pm, nil).Once()
	h.methods.On("List", mock.Anything, "user-1").Return([]*domain.CustomerPaymentMethod{pm}, nil).Once()
	h.methods.On("SetDefault", mock.Anything, "user-1", "pm-local").Return(pm, nil).Once()
	h.methods.On("Detach", mock.Anything, "user-1", "pm-local").Return(nil).Once()
	h.methods.On("Detach", mock.Anything, "user-1", "pm-other").Return(domain.ErrPMNotFound).Once()

	rec := h.do(t, http.MethodPost, "/api/v1/payment-methods",
		map[string]interface{}{"gateway_payment_method_id": "pm_card_visa", "make_default": true},
		map[string]string{HeaderIdempotencyKey: "attach-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"last4":"4242"`)

	rec = h.do(t, http.MethodGet, "/api/v1/payment-methods", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"payment_methods":[`)

	rec = h.do(t, http.MethodPost, "/api/v1/payment-methods/pm-local/default", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/payment-methods/pm-local", nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodDelete, "/api/v1/payment-methods/pm-other", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAttachPaymentMethod_RequiresID(t *testing.T) {
	h := newAPI(t)
	rec := h.do(t, http.MethodPost, "/api/v1/payment-methods", map[string]interface{}{"make_default": true}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
