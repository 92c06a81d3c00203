package payment

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/kevin07696/payment-orchestrator/internal/domain"
	"github.com/kevin07696/payment-orchestrator/internal/services/dispute"
)

// evidenceContentTypes are the file types the card gateway accepts as dispute evidence.
var evidenceContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
}

// SyncDispute handles POST /api/v1/disputes/sync
func (h *Handler) SyncDispute(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body SyncDisputeRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.disputes.CreateOrUpdateDispute(r.Context(), body.GatewayDisputeID, body.IntentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

// GetDispute handles GET /api/v1/disputes/{dispute_id}
func (h *Handler) GetDispute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !h.requireAdmin(w, r) {
		return
	}

	d, err := h.disputes.GetDispute(r.Context(), params["dispute_id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

// SubmitEvidence handles POST /api/v1/disputes/{dispute_id}/evidence.
// With submit=false the evidence is staged at the gateway without being sent to the issuer.
func (h *Handler) SubmitEvidence(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !h.requireAdmin(w, r) {
		return
	}
	var body SubmitEvidenceRequest
	if err := bind(r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	d, err := h.disputes.SubmitEvidence(r.Context(), dispute.SubmitEvidenceRequest{
		DisputeID:      params["dispute_id"],
		Evidence:       body.Evidence,
		Submit:         body.Submit,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(d))
}

// UploadEvidenceFile handles POST /api/v1/disputes/{dispute_id}/files (multipart field "file").
func (h *Handler) UploadEvidenceFile(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if !h.requireAdmin(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1024)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, r, domain.NewDomainError(domain.ErrorCodeValidationFailed, "file exceeds the upload limit"))
			return
		}
		h.writeError(w, r, domain.WrapError(domain.ErrorCodeValidationFailed, "expected a multipart form", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, domain.NewDomainError(domain.ErrorCodeValidationMissingField, "file is required"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !evidenceContentTypes[contentType] {
		h.writeError(w, r, domain.NewDomainError(domain.ErrorCodeValidationFailed, "file must be a PDF, JPEG or PNG"))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		h.writeError(w, r, domain.WrapError(domain.ErrorCodeValidationFailed, "could not read file", err))
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		h.writeError(w, r, domain.NewDomainError(domain.ErrorCodeValidationFailed, "file exceeds the upload limit"))
		return
	}

	ef, err := h.disputes.UploadEvidenceFile(r.Context(), dispute.UploadEvidenceRequest{
		DisputeID:   params["dispute_id"],
		FileName:    filepath.Base(header.Filename),
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ef)
}
