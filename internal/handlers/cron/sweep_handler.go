package cron

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/kevin07696/payment-orchestrator/internal/services/reconciliation"
	"github.com/kevin07696/payment-orchestrator/pkg/encoding"
	"go.uber.org/zap"
)

// HeaderCronSecret authenticates scheduler calls.
const HeaderCronSecret = "X-Cron-Secret"

// SweepRunner runs a named reconciliation sweep.
type SweepRunner interface {
	Run(ctx context.Context, sweep string) (reconciliation.SweepResult, error)
}

// SweepHandler exposes the reconciliation sweeps to an external scheduler.
type SweepHandler struct {
	runner     SweepRunner
	logger     *zap.Logger
	cronSecret string
}

// NewSweepHandler creates a new sweep cron handler
func NewSweepHandler(runner SweepRunner, logger *zap.Logger, cronSecret string) *SweepHandler {
	return &SweepHandler{
		runner:     runner,
		logger:     logger,
		cronSecret: cronSecret,
	}
}

// Register mounts the cron routes on mux.
func (h *SweepHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/cron/sweeps/{name}", h.RunSweep)
	mux.HandleFunc("/cron/sweeps", h.ListSweeps)
}

// RunSweep handles POST /cron/sweeps/{name}
func (h *SweepHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.logger.Info("Sweep cron job triggered",
		zap.String("sweep", name),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("user_agent", r.UserAgent()),
	)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.respondError(w, http.StatusMethodNotAllowed, "only POST method is allowed")
		return
	}
	if !h.authenticateRequest(r) {
		h.logger.Warn("Unauthorized cron request", zap.String("remote_addr", r.RemoteAddr))
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	res, err := h.runner.Run(r.Context(), name)
	if err != nil {
		if errors.Is(err, reconciliation.ErrUnknownSweep) {
			h.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("Sweep cron job failed", zap.String("sweep", name), zap.Error(err))
		h.respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success": false,
			"error":   "sweep failed",
			"result":  res,
		})
		return
	}

	status := http.StatusOK
	if res.Failed > 0 {
		status = http.StatusPartialContent
	}
	h.respondJSON(w, status, map[string]interface{}{
		"success": res.Failed == 0,
		"result":  res,
	})
}

// ListSweeps handles GET /cron/sweeps
func (h *SweepHandler) ListSweeps(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.respondError(w, http.StatusMethodNotAllowed, "only GET method is allowed")
		return
	}
	if !h.authenticateRequest(r) {
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"sweeps": reconciliation.Sweeps()})
}

// authenticateRequest accepts the cron secret as a header or as a bearer token.
func (h *SweepHandler) authenticateRequest(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	candidate := r.Header.Get(HeaderCronSecret)
	if candidate == "" {
		candidate = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.cronSecret)) == 1
}

func (h *SweepHandler) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	if err := encoding.WriteJSON(w, statusCode, body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// respondError sends an error response
func (h *SweepHandler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
