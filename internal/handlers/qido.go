package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-archive/internal/services"
)

// QidoHandler handles QIDO-RS search requests
type QidoHandler struct {
	query *services.QueryService
}

// NewQidoHandler creates a new QIDO-RS handler
func NewQidoHandler(query *services.QueryService) *QidoHandler {
	return &QidoHandler{query: query}
}

// SearchStudies handles GET /studies
func (h *QidoHandler) SearchStudies(w http.ResponseWriter, r *http.Request) {
	results, err := h.query.SearchStudies(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSearchResults(w, len(results), results)
}

// SearchSeries handles GET /studies/{studyUID}/series
func (h *QidoHandler) SearchSeries(w http.ResponseWriter, r *http.Request) {
	results, err := h.query.SearchSeries(r.Context(), chi.URLParam(r, "studyUID"), r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSearchResults(w, len(results), results)
}

// SearchStudyInstances handles GET /studies/{studyUID}/instances
func (h *QidoHandler) SearchStudyInstances(w http.ResponseWriter, r *http.Request) {
	results, err := h.query.SearchInstances(r.Context(), chi.URLParam(r, "studyUID"), "", r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSearchResults(w, len(results), results)
}

// SearchSeriesInstances handles GET /studies/{studyUID}/series/{seriesUID}/instances
func (h *QidoHandler) SearchSeriesInstances(w http.ResponseWriter, r *http.Request) {
	results, err := h.query.SearchInstances(r.Context(),
		chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSearchResults(w, len(results), results)
}

// writeSearchResults writes a QIDO-RS result set; an empty match is 204.
func writeSearchResults(w http.ResponseWriter, count int, results any) {
	if count == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeDICOMJSON(w, http.StatusOK, results)
}
