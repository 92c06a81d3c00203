package payment

import (
	"net/http"

	paymentsvc "github.com/kevin07696/payment-orchestrator/internal/services/payment"
	"github.com/kevin07696/payment-orchestrator/internal/services/refund"
	"github.com/kevin07696/payment-orchestrator/internal/services/wallet"
)

// CreateIntent handles POST /api/v1/orders/{order_id}/payment-intent
func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body IntentRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.intents.CreateIntent(r.Context(), paymentsvc.CreateIntentRequest{
		OrderID:         params["order_id"],
		UserID:          userID,
		IdempotencyKey:  idempotencyKey(r),
		PaymentMethodID: body.PaymentMethodID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	markReplayed(w, res.Replayed)
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// ConfirmIntent handles POST /api/v1/orders/{order_id}/payment-intent/confirm
func (h *Handler) ConfirmIntent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body IntentRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.intents.ConfirmIntent(r.Context(), paymentsvc.ConfirmIntentRequest{
		OrderID:         params["order_id"],
		UserID:          userID,
		IdempotencyKey:  idempotencyKey(r),
		PaymentMethodID: body.PaymentMethodID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	markReplayed(w, res.Replayed)
	writeJSON(w, http.StatusOK, res)
}

// CancelIntent handles POST /api/v1/orders/{order_id}/payment-intent/cancel
func (h *Handler) CancelIntent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body CancelIntentRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.intents.CancelIntent(r.Context(), paymentsvc.CancelIntentRequest{
		OrderID:        params["order_id"],
		UserID:         userID,
		IdempotencyKey: idempotencyKey(r),
		Reason:         body.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	markReplayed(w, res.Replayed)
	writeJSON(w, http.StatusOK, res)
}

// RetrieveIntent handles GET /api/v1/orders/{order_id}/payment-intent.
// It reconciles against the gateway, which wins over local state.
func (h *Handler) RetrieveIntent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	res, err := h.intents.RetrieveIntent(r.Context(), paymentsvc.RetrieveIntentRequest{
		OrderID: params["order_id"],
		UserID:  userID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateRefund handles POST /api/v1/orders/{order_id}/refunds
func (h *Handler) CreateRefund(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body CreateRefundRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	rf, err := h.refunds.CreateRefund(r.Context(), refund.CreateRefundRequest{
		OrderID:        params["order_id"],
		UserID:         userID,
		Amount:         body.Amount,
		Reason:         body.Reason,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRefundResponse(rf))
}

// ListRefunds handles GET /api/v1/orders/{order_id}/refunds
func (h *Handler) ListRefunds(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	refunds, err := h.refunds.ListRefunds(r.Context(), params["order_id"], userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]RefundResponse, 0, len(refunds))
	for _, rf := range refunds {
		out = append(out, toRefundResponse(rf))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"refunds": out})
}

// CreateWalletPayment handles POST /api/v1/orders/{order_id}/wallet-payment
func (h *Handler) CreateWalletPayment(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body CreateWalletPaymentRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.wallet.CreatePayment(r.Context(), wallet.CreatePaymentRequest{
		OrderID:        params["order_id"],
		UserID:         userID,
		IdempotencyKey: idempotencyKey(r),
		ReturnURL:      body.ReturnURL,
		CancelURL:      body.CancelURL,
		Shipping:       body.Shipping,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	markReplayed(w, res.Replayed)
	writeJSON(w, http.StatusCreated, res)
}

// CaptureWalletPayment handles POST /api/v1/orders/{order_id}/wallet-payment/capture
func (h *Handler) CaptureWalletPayment(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body CaptureWalletPaymentRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.wallet.CapturePayment(r.Context(), wallet.CapturePaymentRequest{
		OrderID:         params["order_id"],
		UserID:          userID,
		ProviderOrderID: body.ProviderOrderID,
		IdempotencyKey:  idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	markReplayed(w, res.Replayed)
	writeJSON(w, http.StatusOK, res)
}
