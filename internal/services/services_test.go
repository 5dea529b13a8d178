package services

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/otcheredev/dicomweb-archive/internal/cache"
	"github.com/otcheredev/dicomweb-archive/internal/codec"
	"github.com/otcheredev/dicomweb-archive/internal/database"
	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/otcheredev/dicomweb-archive/internal/storage"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	repo     *repository.ArchiveRepository
	audit    *repository.AuditRepository
	files    *storage.FileStore
	store    *StoreService
	query    *QueryService
	retrieve *RetrieveService
}

func newTestEnv(t *testing.T) *testEnv {
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

	return &testEnv{
		repo:     repo,
		audit:    audit,
		files:    files,
		store:    NewStoreService(repo, audit, files, testOrigin, 2),
		query:    NewQueryService(repo, testOrigin),
		retrieve: NewRetrieveService(repo, audit, files, codec.NewNativeCodec(), renderCache, testOrigin, time.Minute),
	}
}

// testObject describes a synthetic data set encoded as a Part 10 payload.
type testObject struct {
	studyUID       string
	seriesUID      string
	sopUID         string
	sopClassUID    string
	patientName    string
	studyDate      string
	modality       string
	instanceNumber string
}

func (o testObject) encode(t *testing.T) []byte {
	t.Helper()

	if o.sopClassUID == "" {
		o.sopClassUID = "1.2.840.10008.5.1.4.1.1.2"
	}

	var elements []*dicom.Element
	el := func(tg tag.Tag, value string) {
		if value == "" {
			return
		}
		e, err := dicom.NewElement(tg, []string{value})
		require.NoError(t, err)
		elements = append(elements, e)
	}

	el(tag.MediaStorageSOPClassUID, o.sopClassUID)
	el(tag.MediaStorageSOPInstanceUID, o.sopUID)
	el(tag.TransferSyntaxUID, "1.2.840.10008.1.2.1")
	el(tag.SOPClassUID, o.sopClassUID)
	el(tag.SOPInstanceUID, o.sopUID)
	el(tag.StudyDate, o.studyDate)
	el(tag.Modality, o.modality)
	el(tag.PatientName, o.patientName)
	el(tag.StudyInstanceUID, o.studyUID)
	el(tag.SeriesInstanceUID, o.seriesUID)
	el(tag.InstanceNumber, o.instanceNumber)

	var buf bytes.Buffer
	require.NoError(t, dicom.Write(&buf, dicom.Dataset{Elements: elements}))
	return buf.Bytes()
}

// multipartBody packs payloads into a multipart/related request body and
// returns a part reader over it, the way the STOW-RS handler produces one.
func multipartBody(t *testing.T, payloads ...[]byte) (string, *bytes.Buffer) {
	t.Helper()

	var buf bytes.Buffer
	w := dicomweb.NewRelatedWriter(&buf)
	for _, payload := range payloads {
		part, err := w.CreatePart(dicomweb.MIMETypeDICOM)
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	contentType := w.ContentType(dicomweb.MIMETypeDICOM)
	require.NoError(t, w.Close())
	return contentType, &buf
}
