package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/metrics"
	"github.com/otcheredev/dicomweb-archive/internal/models"
	"github.com/otcheredev/dicomweb-archive/internal/services"
	"github.com/rs/zerolog/log"
)

// WadoHandler handles WADO-RS retrieve requests
type WadoHandler struct {
	retrieve *services.RetrieveService
}

// NewWadoHandler creates a new WADO-RS handler
func NewWadoHandler(retrieve *services.RetrieveService) *WadoHandler {
	return &WadoHandler{retrieve: retrieve}
}

// RetrieveStudy handles GET /studies/{studyUID}
func (h *WadoHandler) RetrieveStudy(w http.ResponseWriter, r *http.Request) {
	h.handleRetrieve(w, r, chi.URLParam(r, "studyUID"), "", "")
}

// RetrieveSeries handles GET /studies/{studyUID}/series/{seriesUID}
func (h *WadoHandler) RetrieveSeries(w http.ResponseWriter, r *http.Request) {
	h.handleRetrieve(w, r, chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), "")
}

// RetrieveInstance handles GET /studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}
func (h *WadoHandler) RetrieveInstance(w http.ResponseWriter, r *http.Request) {
	h.handleRetrieve(w, r,
		chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), chi.URLParam(r, "instanceUID"))
}

// handleRetrieve streams the stored instances as-stored: one application/dicom
// part per instance, byte for byte what was ingested.
func (h *WadoHandler) handleRetrieve(w http.ResponseWriter, r *http.Request, studyUID, seriesUID, instanceUID string) {
	start := time.Now()

	if accept := r.Header.Get("Accept"); !dicomweb.Accepts(accept, "multipart/related") &&
		!dicomweb.Accepts(accept, dicomweb.MIMETypeDICOM) {
		writeJSON(w, http.StatusNotAcceptable, ErrorResponse{Error: "acceptable media type: multipart/related"})
		return
	}

	instances, err := h.retrieve.Resolve(r.Context(), studyUID, seriesUID, instanceUID)
	if err != nil {
		h.retrieve.RecordRetrieve(r.Context(), models.AuditActionRetrieve,
			studyUID, seriesUID, instanceUID, r.RemoteAddr, "failure", err, start)
		writeError(w, err)
		return
	}

	rw := dicomweb.NewRelatedWriter(w)
	w.Header().Set("Content-Type", rw.ContentType(dicomweb.MIMETypeDICOM))
	w.WriteHeader(http.StatusOK)

	for _, instance := range instances {
		if err := r.Context().Err(); err != nil {
			return
		}
		f, _, err := h.retrieve.OpenInstance(instance)
		if err != nil {
			// Headers are already flushed; all we can do is truncate the body.
			log.Error().Err(err).Str("sop_instance_uid", instance.SOPInstanceUID).Msg("Failed to open stored file")
			return
		}
		part, err := rw.CreatePart(dicomweb.MIMETypeDICOM)
		if err != nil {
			f.Close()
			return
		}
		n, err := io.Copy(part, f)
		f.Close()
		metrics.RetrievedBytes.Add(float64(n))
		if err != nil {
			log.Error().Err(err).Str("sop_instance_uid", instance.SOPInstanceUID).Msg("Failed to stream instance")
			return
		}
	}
	if err := rw.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to finish multipart response")
		return
	}

	h.retrieve.RecordRetrieve(r.Context(), models.AuditActionRetrieve,
		studyUID, seriesUID, instanceUID, r.RemoteAddr, "success", nil, start)
}

// StudyMetadata handles GET /studies/{studyUID}/metadata
func (h *WadoHandler) StudyMetadata(w http.ResponseWriter, r *http.Request) {
	h.handleMetadata(w, r, chi.URLParam(r, "studyUID"), "", "")
}

// SeriesMetadata handles GET /studies/{studyUID}/series/{seriesUID}/metadata
func (h *WadoHandler) SeriesMetadata(w http.ResponseWriter, r *http.Request) {
	h.handleMetadata(w, r, chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), "")
}

// InstanceMetadata handles GET /studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/metadata
func (h *WadoHandler) InstanceMetadata(w http.ResponseWriter, r *http.Request) {
	h.handleMetadata(w, r,
		chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), chi.URLParam(r, "instanceUID"))
}

func (h *WadoHandler) handleMetadata(w http.ResponseWriter, r *http.Request, studyUID, seriesUID, instanceUID string) {
	objects, err := h.retrieve.Metadata(r.Context(), studyUID, seriesUID, instanceUID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeDICOMJSON(w, http.StatusOK, objects)
}

// RenderedStudy handles GET /studies/{studyUID}/rendered
func (h *WadoHandler) RenderedStudy(w http.ResponseWriter, r *http.Request) {
	h.handleRendered(w, r, chi.URLParam(r, "studyUID"), "", "", false)
}

// RenderedSeries handles GET /studies/{studyUID}/series/{seriesUID}/rendered
func (h *WadoHandler) RenderedSeries(w http.ResponseWriter, r *http.Request) {
	h.handleRendered(w, r, chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), "", false)
}

// RenderedInstance handles GET /studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/rendered
func (h *WadoHandler) RenderedInstance(w http.ResponseWriter, r *http.Request) {
	h.handleRendered(w, r,
		chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), chi.URLParam(r, "instanceUID"), false)
}

// ThumbnailStudy handles GET /studies/{studyUID}/thumbnail
func (h *WadoHandler) ThumbnailStudy(w http.ResponseWriter, r *http.Request) {
	h.handleRendered(w, r, chi.URLParam(r, "studyUID"), "", "", true)
}

// ThumbnailSeries handles GET /studies/{studyUID}/series/{seriesUID}/thumbnail
func (h *WadoHandler) ThumbnailSeries(w http.ResponseWriter, r *http.Request) {
	h.handleRendered(w, r, chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), "", true)
}

// ThumbnailInstance handles GET /studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/thumbnail
func (h *WadoHandler) ThumbnailInstance(w http.ResponseWriter, r *http.Request) {
	h.handleRendered(w, r,
		chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), chi.URLParam(r, "instanceUID"), true)
}

// RenderedFrame handles GET .../instances/{instanceUID}/frames/{frames}/rendered
func (h *WadoHandler) RenderedFrame(w http.ResponseWriter, r *http.Request) {
	h.handleFrameRendered(w, r, false)
}

// ThumbnailFrame handles GET .../instances/{instanceUID}/frames/{frames}/thumbnail
func (h *WadoHandler) ThumbnailFrame(w http.ResponseWriter, r *http.Request) {
	h.handleFrameRendered(w, r, true)
}

func (h *WadoHandler) handleFrameRendered(w http.ResponseWriter, r *http.Request, thumbnail bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "frames"))
	if err != nil || n < 1 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "frame must be a positive integer"})
		return
	}
	h.renderFrame(w, r,
		chi.URLParam(r, "studyUID"), chi.URLParam(r, "seriesUID"), chi.URLParam(r, "instanceUID"), n, thumbnail)
}

// handleRendered produces a consumer-format image of the representative
// instance of the addressed scope. A `frame` query parameter selects a
// one-based frame, defaulting to the first.
func (h *WadoHandler) handleRendered(w http.ResponseWriter, r *http.Request, studyUID, seriesUID, instanceUID string, thumbnail bool) {
	frameNumber := 0
	if raw := r.URL.Query().Get("frame"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "frame must be a positive integer"})
			return
		}
		frameNumber = n
	}
	h.renderFrame(w, r, studyUID, seriesUID, instanceUID, frameNumber, thumbnail)
}

func (h *WadoHandler) renderFrame(w http.ResponseWriter, r *http.Request, studyUID, seriesUID, instanceUID string, frameNumber int, thumbnail bool) {
	start := time.Now()

	mediaType, ok := negotiateRenderType(r.Header.Get("Accept"))
	if !ok {
		writeJSON(w, http.StatusNotAcceptable, ErrorResponse{Error: "acceptable media types: image/jpeg, image/png"})
		return
	}

	data, err := h.retrieve.Rendered(r.Context(), studyUID, seriesUID, instanceUID, frameNumber, mediaType, thumbnail)
	if err != nil {
		h.retrieve.RecordRetrieve(r.Context(), models.AuditActionRendered,
			studyUID, seriesUID, instanceUID, r.RemoteAddr, "failure", err, start)
		writeError(w, err)
		return
	}

	h.retrieve.RecordRetrieve(r.Context(), models.AuditActionRendered,
		studyUID, seriesUID, instanceUID, r.RemoteAddr, "success", nil, start)

	w.Header().Set("Content-Type", mediaType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// RetrieveFrames handles GET /studies/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frames}
// where {frames} is a comma separated list of one-based frame numbers.
func (h *WadoHandler) RetrieveFrames(w http.ResponseWriter, r *http.Request) {
	studyUID := chi.URLParam(r, "studyUID")
	seriesUID := chi.URLParam(r, "seriesUID")
	instanceUID := chi.URLParam(r, "instanceUID")

	frameNumbers, err := parseFrameList(chi.URLParam(r, "frames"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	frames, err := h.retrieve.Frames(r.Context(), studyUID, seriesUID, instanceUID, frameNumbers)
	if err != nil {
		writeError(w, err)
		return
	}

	rw := dicomweb.NewRelatedWriter(w)
	w.Header().Set("Content-Type", rw.ContentType("application/octet-stream"))
	w.WriteHeader(http.StatusOK)
	for _, frame := range frames {
		part, err := rw.CreatePart("application/octet-stream")
		if err != nil {
			return
		}
		if _, err := part.Write(frame); err != nil {
			return
		}
		metrics.RetrievedBytes.Add(float64(len(frame)))
	}
	rw.Close()
}

// negotiateRenderType picks the rendered media type from the Accept header.
// JPEG is preferred, PNG is the lossless alternative.
func negotiateRenderType(accept string) (string, bool) {
	if dicomweb.Accepts(accept, "image/jpeg") {
		return "image/jpeg", true
	}
	if dicomweb.Accepts(accept, "image/png") {
		return "image/png", true
	}
	return "", false
}

func parseFrameList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	frameNumbers := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid frame list %q", raw)
		}
		frameNumbers = append(frameNumbers, n)
	}
	return frameNumbers, nil
}
