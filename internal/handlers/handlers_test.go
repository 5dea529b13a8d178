package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/otcheredev/dicomweb-archive/internal/cache"
	"github.com/otcheredev/dicomweb-archive/internal/codec"
	"github.com/otcheredev/dicomweb-archive/internal/database"
	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/otcheredev/dicomweb-archive/internal/services"
	"github.com/otcheredev/dicomweb-archive/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const testOrigin = "http://localhost:8080"

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	db, err := database.Connect(database.Config{
		URL:      "sqlite://" + filepath.Join(t.TempDir(), "archive.db"),
		LogLevel: "silent",
	})
	require.NoError(t, err)

	files, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	repo := repository.NewArchiveRepository(db)
	audit := repository.NewAuditRepository(db)
	renderCache := cache.NewMemoryCache()
	t.Cleanup(func() { renderCache.Close() })

	storeService := services.NewStoreService(repo, audit, files, testOrigin, 2)
	queryService := services.NewQueryService(repo, testOrigin)
	retrieveService := services.NewRetrieveService(repo, audit, files,
		codec.NewNativeCodec(), renderCache, testOrigin, time.Minute)

	stow := NewStowHandler(storeService, 1<<28)
	qido := NewQidoHandler(queryService)
	wado := NewWadoHandler(retrieveService)

	r := chi.NewRouter()
	r.Route("/studies", func(r chi.Router) {
		r.Post("/", stow.StoreInstances)
		r.Post("/{studyUID}", stow.StoreStudyInstances)
		r.Get("/", qido.SearchStudies)
		r.Get("/{studyUID}/series", qido.SearchSeries)
		r.Get("/{studyUID}/series/{seriesUID}/instances", qido.SearchSeriesInstances)
		r.Get("/{studyUID}", wado.RetrieveStudy)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}", wado.RetrieveInstance)
		r.Get("/{studyUID}/metadata", wado.StudyMetadata)
		r.Get("/{studyUID}/rendered", wado.RenderedStudy)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frames}/rendered", wado.RenderedFrame)
		r.Get("/{studyUID}/series/{seriesUID}/instances/{instanceUID}/frames/{frames}/thumbnail", wado.ThumbnailFrame)
	})
	return r
}

func encodeObject(t *testing.T, studyUID, seriesUID, sopUID string) []byte {
	t.Helper()

	var elements []*dicom.Element
	el := func(tg tag.Tag, value string) {
		e, err := dicom.NewElement(tg, []string{value})
		require.NoError(t, err)
		elements = append(elements, e)
	}

	el(tag.MediaStorageSOPClassUID, "1.2.840.10008.5.1.4.1.1.2")
	el(tag.MediaStorageSOPInstanceUID, sopUID)
	el(tag.TransferSyntaxUID, "1.2.840.10008.1.2.1")
	el(tag.SOPClassUID, "1.2.840.10008.5.1.4.1.1.2")
	el(tag.SOPInstanceUID, sopUID)
	el(tag.Modality, "CT")
	el(tag.PatientName, "SMITH^JOHN")
	el(tag.StudyInstanceUID, studyUID)
	el(tag.SeriesInstanceUID, seriesUID)

	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, dicom.Dataset{Elements: elements}))
	return buf.Bytes()
}

func postInstances(t *testing.T, router chi.Router, path string, payloads ...[]byte) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	w := dicomweb.NewRelatedWriter(&body)
	for _, payload := range payloads {
		part, err := w.CreatePart(dicomweb.MIMETypeDICOM)
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	contentType := w.ContentType(dicomweb.MIMETypeDICOM)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStowAndRetrieveRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	payload := encodeObject(t, "1.2", "1.2.1", "1.2.1.1")

	rec := postInstances(t, router, "/studies", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dicomweb.MIMETypeDICOMJSON, rec.Header().Get("Content-Type"))

	var manifest map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	assert.Contains(t, manifest, "00081199")
	assert.NotContains(t, manifest, "00081198")

	// Retrieve as stored, byte for byte.
	req := httptest.NewRequest(http.MethodGet, "/studies/1.2/series/1.2.1/instances/1.2.1.1", nil)
	req.Header.Set("Accept", `multipart/related; type="application/dicom"`)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	parts, err := dicomweb.OpenRelated(rec.Header().Get("Content-Type"), rec.Body)
	require.NoError(t, err)
	part, err := parts.NextPart()
	require.NoError(t, err)
	assert.Equal(t, dicomweb.MIMETypeDICOM, part.Header.Get("Content-Type"))
	stored, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)

	_, err = parts.NextPart()
	assert.Equal(t, io.EOF, err)
}

func TestStowRejectsNonMultipart(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/studies", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestStowAllFailedIsConflict(t *testing.T) {
	router := newTestRouter(t)
	payload := encodeObject(t, "1.2", "1.2.1", "1.2.1.1")

	require.Equal(t, http.StatusOK, postInstances(t, router, "/studies", payload).Code)

	rec := postInstances(t, router, "/studies", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStowStudyMismatch(t *testing.T) {
	router := newTestRouter(t)
	payload := encodeObject(t, "1.2", "1.2.1", "1.2.1.1")

	rec := postInstances(t, router, "/studies/9.9", payload)
	assert.Equal(t, http.StatusConflict, rec.Code)

	var manifest map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &manifest))
	assert.Contains(t, manifest, "00081198")
}

func TestQidoSearch(t *testing.T) {
	router := newTestRouter(t)
	postInstances(t, router, "/studies", encodeObject(t, "1.2", "1.2.1", "1.2.1.1"))

	req := httptest.NewRequest(http.MethodGet, "/studies?PatientName=SM*", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dicomweb.MIMETypeDICOMJSON, rec.Header().Get("Content-Type"))

	var results []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "0020000D")
}

func TestQidoNoMatchesIsNoContent(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/studies?PatientID=NOBODY", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestQidoInvalidStudyUID(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/studies/not-a-uid/series", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQidoInvalidLimit(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/studies?limit=zero", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWadoUnknownStudyIsNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/studies/9.9", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRenderedNotAcceptable(t *testing.T) {
	router := newTestRouter(t)
	postInstances(t, router, "/studies", encodeObject(t, "1.2", "1.2.1", "1.2.1.1"))

	req := httptest.NewRequest(http.MethodGet, "/studies/1.2/rendered", nil)
	req.Header.Set("Accept", "application/pdf")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestRenderedFrameRoutes(t *testing.T) {
	router := newTestRouter(t)
	postInstances(t, router, "/studies", encodeObject(t, "1.2", "1.2.1", "1.2.1.1"))

	// The stored object carries no decodable pixel data, so a reachable
	// frame resource fails at the transcode step, not with a routing 404.
	for _, path := range []string{
		"/studies/1.2/series/1.2.1/instances/1.2.1.1/frames/1/rendered",
		"/studies/1.2/series/1.2.1/instances/1.2.1.1/frames/1/thumbnail",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Accept", "image/jpeg")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotAcceptable, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/studies/1.2/series/1.2.1/instances/1.2.1.1/frames/0/rendered", nil)
	req.Header.Set("Accept", "image/jpeg")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetadata(t *testing.T) {
	router := newTestRouter(t)
	postInstances(t, router, "/studies", encodeObject(t, "1.2", "1.2.1", "1.2.1.1"))

	req := httptest.NewRequest(http.MethodGet, "/studies/1.2/metadata", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var objects []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &objects))
	require.Len(t, objects, 1)
	assert.Contains(t, objects[0], "00100010")
	assert.Contains(t, objects[0], "00081190")
}
