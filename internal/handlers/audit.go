package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
)

// AuditHandler exposes the audit trail
type AuditHandler struct {
	audit *repository.AuditRepository
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit *repository.AuditRepository) *AuditHandler {
	return &AuditHandler{audit: audit}
}

// Recent handles GET /api/v1/audit
func (h *AuditHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "offset must be a non-negative integer"})
			return
		}
		offset = n
	}

	logs, err := h.audit.Recent(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// ByStudy handles GET /api/v1/audit/studies/{studyUID}
func (h *AuditHandler) ByStudy(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if _, err := dicomweb.ParseUID(studyUID); err != nil {
		writeError(w, err)
		return
	}

	logs, err := h.audit.GetByStudyUID(r.Context(), studyUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
