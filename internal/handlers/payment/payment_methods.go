package payment

import (
	"net/http"

	"github.com/kevin07696/payment-orchestrator/internal/services/payment_method"
)

// ListPaymentMethods handles GET /api/v1/payment-methods
func (h *Handler) ListPaymentMethods(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	methods, err := h.paymentMethods.List(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]PaymentMethodResponse, 0, len(methods))
	for _, pm := range methods {
		out = append(out, toPaymentMethodResponse(pm))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"payment_methods": out})
}

// AttachPaymentMethod handles POST /api/v1/payment-methods
func (h *Handler) AttachPaymentMethod(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var body AttachPaymentMethodRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	pm, err := h.paymentMethods.Attach(r.Context(), payment_method.AttachRequest{
		UserID:                 userID,
		GatewayPaymentMethodID: body.GatewayPaymentMethodID,
		MakeDefault:            body.MakeDefault,
		IdempotencyKey:         idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentMethodResponse(pm))
}

// SetDefaultPaymentMethod handles POST /api/v1/payment-methods/{id}/default
func (h *Handler) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	pm, err := h.paymentMethods.SetDefault(r.Context(), userID, params["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentMethodResponse(pm))
}

// DetachPaymentMethod handles DELETE /api/v1/payment-methods/{id}
func (h *Handler) DetachPaymentMethod(w http.ResponseWriter, r *http.Request, params map[string]string) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.paymentMethods.Detach(r.Context(), userID, params["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
