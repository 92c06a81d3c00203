package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/kevin07696/payment-orchestrator/internal/auth"
	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/services/dispute"
	paymentsvc "github.com/kevin07696/payment-orchestrator/internal/services/payment"
	"github.com/kevin07696/payment-orchestrator/internal/services/payment_method"
	"github.com/kevin07696/payment-orchestrator/internal/services/refund"
	"github.com/kevin07696/payment-orchestrator/internal/services/wallet"
	"github.com/kevin07696/payment-orchestrator/pkg/encoding"
	pkgerrors "github.com/kevin07696/payment-orchestrator/pkg/errors"
	"github.com/kevin07696/payment-orchestrator/pkg/resilience"
	"go.uber.org/zap"
)

const (
	// HeaderIdempotencyKey carries the client's attempt key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderReplayed is set when the response was served from the idempotency ledger.
	HeaderReplayed = "Idempotent-Replayed"

	defaultMaxBodyBytes   = 1 << 20
	defaultMaxUploadBytes = 5 << 20
)

// IntentService is the card payment surface used by the API.
type IntentService interface {
	CreateIntent(ctx context.Context, req paymentsvc.CreateIntentRequest) (*paymentsvc.IntentResult, error)
	ConfirmIntent(ctx context.Context, req paymentsvc.ConfirmIntentRequest) (*paymentsvc.IntentResult, error)
	CancelIntent(ctx context.Context, req paymentsvc.CancelIntentRequest) (*paymentsvc.IntentResult, error)
	RetrieveIntent(ctx context.Context, req paymentsvc.RetrieveIntentRequest) (*paymentsvc.IntentResult, error)
}

// RefundService creates and lists refunds.
type RefundService interface {
	CreateRefund(ctx context.Context, req refund.CreateRefundRequest) (*domain.Refund, error)
	ListRefunds(ctx context.Context, orderID, userID string) ([]*domain.Refund, error)
}

// WalletService is the alternate gateway checkout.
type WalletService interface {
	CreatePayment(ctx context.Context, req wallet.CreatePaymentRequest) (*wallet.CreatePaymentResult, error)
	CapturePayment(ctx context.Context, req wallet.CapturePaymentRequest) (*wallet.CaptureResult, error)
}

// DisputeService is the operator dispute surface.
type DisputeService interface {
	CreateOrUpdateDispute(ctx context.Context, gatewayDisputeID, intentID string) (*domain.Dispute, error)
	SubmitEvidence(ctx context.Context, req dispute.SubmitEvidenceRequest) (*domain.Dispute, error)
	UploadEvidenceFile(ctx context.Context, req dispute.UploadEvidenceRequest) (*dispute.EvidenceFile, error)
	GetDispute(ctx context.Context, id string) (*domain.Dispute, error)
}

// PaymentMethodService manages saved cards.
type PaymentMethodService interface {
	Attach(ctx context.Context, req payment_method.AttachRequest) (*domain.CustomerPaymentMethod, error)
	SetDefault(ctx context.Context, userID, id string) (*domain.CustomerPaymentMethod, error)
	List(ctx context.Context, userID string) ([]*domain.CustomerPaymentMethod, error)
	Detach(ctx context.Context, userID, id string) error
}

// Deps are the Handler's collaborators. Wallet may be nil when the wallet gateway is disabled.
type Deps struct {
	Intents        IntentService
	Refunds        RefundService
	Wallet         WalletService
	Disputes       DisputeService
	PaymentMethods PaymentMethodService
	Logger         *zap.Logger
	MaxUploadBytes int64
}

// Handler serves the REST API under /api/v1.
type Handler struct {
	intents        IntentService
	refunds        RefundService
	wallet         WalletService
	disputes       DisputeService
	paymentMethods PaymentMethodService
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandler creates the REST handler
func NewHandler(d Deps) *Handler {
	maxUpload := d.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{
		intents:        d.Intents,
		refunds:        d.Refunds,
		wallet:         d.Wallet,
		disputes:       d.Disputes,
		paymentMethods: d.PaymentMethods,
		logger:         d.Logger,
		maxUploadBytes: maxUpload,
	}
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *runtime.ServeMux) error {
	routes := []route{
		{http.MethodPost, "/api/v1/orders/{order_id}/payment-intent", h.CreateIntent},
		{http.MethodPost, "/api/v1/orders/{order_id}/payment-intent/confirm", h.ConfirmIntent},
		{http.MethodPost, "/api/v1/orders/{order_id}/payment-intent/cancel", h.CancelIntent},
		{http.MethodGet, "/api/v1/orders/{order_id}/payment-intent", h.RetrieveIntent},
		{http.MethodPost, "/api/v1/orders/{order_id}/refunds", h.CreateRefund},
		{http.MethodGet, "/api/v1/orders/{order_id}/refunds", h.ListRefunds},
		{http.MethodPost, "/api/v1/disputes/sync", h.SyncDispute},
		{http.MethodGet, "/api/v1/disputes/{dispute_id}", h.GetDispute},
		{http.MethodPost, "/api/v1/disputes/{dispute_id}/evidence", h.SubmitEvidence},
		{http.MethodPost, "/api/v1/disputes/{dispute_id}/files", h.UploadEvidenceFile},
		{http.MethodGet, "/api/v1/payment-methods", h.ListPaymentMethods},
		{http.MethodPost, "/api/v1/payment-methods", h.AttachPaymentMethod},
		{http.MethodPost, "/api/v1/payment-methods/{id}/default", h.SetDefaultPaymentMethod},
		{http.MethodDelete, "/api/v1/payment-methods/{id}", h.DetachPaymentMethod},
	}
	if h.wallet != nil {
		routes = append(routes,
			route{http.MethodPost, "/api/v1/orders/{order_id}/wallet-payment", h.CreateWalletPayment},
			route{http.MethodPost, "/api/v1/orders/{order_id}/wallet-payment/capture", h.CaptureWalletPayment},
		)
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	DeclineCode string `json:"decline_code,omitempty"`
}

// statusFor maps a service error to an HTTP status and public error detail.
func statusFor(err error) (int, errorDetail) {
	var exhausted *resilience.RetryExhaustedError
	var gwErr *pkgerrors.GatewayError
	var domainErr *domain.DomainError

	switch {
	case errors.As(err, &exhausted):
		return http.StatusServiceUnavailable, errorDetail{
			Code:    string(domain.ErrorCodeGatewayUnavailable),
			Message: "payment provider is temporarily unavailable, please retry",
		}
	case errors.As(err, &gwErr):
		if decline, ok := pkgerrors.DeclineOf(err); ok {
			return http.StatusPaymentRequired, errorDetail{
				Code:        string(domain.ErrorCodeGatewayDeclined),
				Message:     decline.UserMessage(),
				DeclineCode: string(decline),
			}
		}
		if gwErr.Category == pkgerrors.CategoryInvalidRequest && gwErr.GatewayMessage != "" {
			return http.StatusBadGateway, errorDetail{Code: string(domain.ErrorCodeGatewayError), Message: gwErr.GatewayMessage}
		}
		return http.StatusBadGateway, errorDetail{Code: string(domain.ErrorCodeGatewayError), Message: "payment provider rejected the request"}
	case errors.As(err, &domainErr):
		detail := errorDetail{Code: string(domainErr.Code), Message: domainErr.Message}
		switch {
		case domain.IsValidationError(err):
			return http.StatusBadRequest, detail
		case domain.IsNotFoundError(err):
			return http.StatusNotFound, detail
		case domain.IsPreconditionError(err):
			return http.StatusConflict, detail
		case domainErr.Code == domain.ErrorCodeIdempotencyInFlight, domainErr.Code == domain.ErrorCodeIdempotencyConflict:
			return http.StatusConflict, detail
		case domainErr.Code == domain.ErrorCodeAuthAccessDenied:
			return http.StatusForbidden, detail
		case domain.IsAuthError(err):
			return http.StatusUnauthorized, detail
		case domainErr.Code == domain.ErrorCodeGatewayDeclined:
			return http.StatusPaymentRequired, detail
		case domainErr.Code == domain.ErrorCodeGatewayUnavailable:
			return http.StatusServiceUnavailable, detail
		case domain.IsGatewayError(err):
			return http.StatusBadGateway, detail
		}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorDetail{Code: "TIMEOUT", Message: "request timed out"}
	}
	return http.StatusInternalServerError, errorDetail{Code: string(domain.ErrorCodeInternalError), Message: "internal server error"}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := statusFor(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("code", detail.Code),
		zap.String("request_id", auth.RequestID(r.Context())),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields...)
	} else {
		h.logger.Info("Request rejected", fields...)
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	_ = encoding.WriteJSON(w, status, body)
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, defaultMaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.WrapError(domain.ErrorCodeValidationFailed, "malformed JSON body", err)
	}
	return nil
}

// validatable is implemented by the request DTOs.
type validatable interface {
	Validate() error
}

// bind decodes and validates a request body.
func bind(r *http.Request, v validatable) error {
	if err := decodeBody(r, v); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return domain.WrapError(domain.ErrorCodeValidationFailed, err.Error(), err)
	}
	return nil
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
}

// userID returns the authenticated caller or writes a 401.
func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.writeError(w, r, domain.ErrAuthMissing)
		return "", false
	}
	return userID, true
}

// requireAdmin writes a 403 unless the caller carries the admin role.
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := h.userID(w, r); !ok {
		return false
	}
	if !auth.HasRole(r.Context(), auth.RoleAdmin) {
		h.writeError(w, r, domain.ErrAuthAccessDenied)
		return false
	}
	return true
}

func markReplayed(w http.ResponseWriter, replayed bool) {
	if replayed {
		w.Header().Set(HeaderReplayed, "true")
	}
}
