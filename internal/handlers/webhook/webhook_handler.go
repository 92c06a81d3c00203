// Package webhook receives signed gateway event deliveries over HTTP.
package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kevin07696/payment-orchestrator/internal/services/webhook"
	"github.com/kevin07696/payment-orchestrator/pkg/encoding"
	"go.uber.org/zap"
)

const (
	// HeaderCardSignature carries the card gateway's "t=<unix>,v1=<hex>" signature.
	HeaderCardSignature = "Card-Signature"
	// HeaderWalletSignature carries the wallet gateway's signature in the same format.
	HeaderWalletSignature = "Wallet-Signature"

	maxPayloadBytes = 256 << 10
)

// Ingestor verifies and applies raw deliveries.
type Ingestor interface {
	HandleCardEvent(ctx context.Context, payload []byte, signatureHeader string) error
	HandleWalletEvent(ctx context.Context, payload []byte, signatureHeader string) error
}

// Handler serves the gateway webhook endpoints. Gateways redeliver on any non-2xx answer,
// so only failures worth retrying get a 5xx.
type Handler struct {
	ingestor Ingestor
	logger   *zap.Logger
}

// NewHandler creates a new webhook handler
func NewHandler(ingestor Ingestor, logger *zap.Logger) *Handler {
	return &Handler{ingestor: ingestor, logger: logger}
}

// Register mounts the webhook routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/webhooks/card", h.HandleCard)
	mux.HandleFunc("/webhooks/wallet", h.HandleWallet)
}

// HandleCard handles POST /webhooks/card
func (h *Handler) HandleCard(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "card", HeaderCardSignature, h.ingestor.HandleCardEvent)
}

// HandleWallet handles POST /webhooks/wallet
func (h *Handler) HandleWallet(w http.ResponseWriter, r *http.Request) {
	h.receive(w, r, "wallet", HeaderWalletSignature, h.ingestor.HandleWalletEvent)
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request, gateway, header string,
	handle func(ctx context.Context, payload []byte, signatureHeader string) error) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respond(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.logger.Warn("Failed to read webhook body", zap.String("gateway", gateway), zap.Error(err))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respond(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		h.respond(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	err = handle(r.Context(), payload, r.Header.Get(header))
	switch {
	case err == nil:
		h.respond(w, http.StatusOK, "")
	case errors.Is(err, webhook.ErrInvalidSignature):
		h.respond(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, webhook.ErrMalformedEvent):
		h.logger.Warn("Malformed webhook event", zap.String("gateway", gateway), zap.Error(err))
		h.respond(w, http.StatusBadRequest, "malformed event")
	default:
		h.logger.Error("Webhook delivery failed, gateway will redeliver",
			zap.String("gateway", gateway),
			zap.Error(err),
		)
		h.respond(w, http.StatusInternalServerError, "processing failed")
	}
}

func (h *Handler) respond(w http.ResponseWriter, status int, message string) {
	body := map[string]interface{}{"received": status == http.StatusOK}
	if message != "" {
		body["error"] = message
	}
	if err := encoding.WriteJSON(w, status, body); err != nil {
		h.logger.Error("Failed to encode webhook response", zap.Error(err))
	}
}
