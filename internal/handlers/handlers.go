package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/rs/zerolog/log"
)

// ErrorResponse is the JSON error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeDICOMJSON writes a DICOM JSON response with the given status
func writeDICOMJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", dicomweb.MIMETypeDICOMJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps domain errors to HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dicomweb.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dicomweb.ErrInvalidIdentifier),
		errors.Is(err, dicomweb.ErrInvalidQuery),
		errors.Is(err, dicomweb.ErrMalformedDataSet),
		errors.Is(err, dicomweb.ErrStudyMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, dicomweb.ErrDuplicateInstance):
		status = http.StatusConflict
	case errors.Is(err, dicomweb.ErrUnsupportedTransferSyntax),
		errors.Is(err, dicomweb.ErrTranscodeFailure):
		status = http.StatusNotAcceptable
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
