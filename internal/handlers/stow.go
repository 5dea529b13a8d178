package handlers

import (
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/services"
)

// StowHandler handles STOW-RS store requests
type StowHandler struct {
	store          *services.StoreService
	maxUploadBytes int64
}

// NewStowHandler creates a new STOW-RS handler
func NewStowHandler(store *services.StoreService, maxUploadBytes int64) *StowHandler {
	return &StowHandler{store: store, maxUploadBytes: maxUploadBytes}
}

// StoreInstances handles POST /studies
func (h *StowHandler) StoreInstances(w http.ResponseWriter, r *http.Request) {
	h.handleStore(w, r, "")
}

// StoreStudyInstances handles POST /studies/{studyUID}. Parts whose Study
// Instance UID differs from the target study are rejected individually.
func (h *StowHandler) StoreStudyInstances(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	if _, err := dicomweb.ParseUID(studyUID); err != nil {
		writeError(w, err)
		return
	}
	h.handleStore(w, r, studyUID)
}

func (h *StowHandler) handleStore(w http.ResponseWriter, r *http.Request, targetStudyUID string) {
	contentType := r.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{
			Error: "request body must be multipart/related with application/dicom parts",
		})
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	parts, err := dicomweb.OpenRelated(contentType, body)
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := h.store.StoreInstances(r.Context(), targetStudyUID, parts, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if response.AllFailed() {
		status = http.StatusConflict
	}
	writeDICOMJSON(w, status, response)
}
