package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"strings"
	"sync"
	"time"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/metrics"
	"github.com/otcheredev/dicomweb-archive/internal/models"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/otcheredev/dicomweb-archive/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"
)

// StoreService is the STOW-RS ingestion pipeline: it decodes multipart DICOM
// payloads, validates each data set independently and persists file plus
// metadata atomically. One part's failure never aborts the batch.
type StoreService struct {
	repo        *repository.ArchiveRepository
	audit       *repository.AuditRepository
	files       *storage.FileStore
	origin      string
	concurrency int
}

// NewStoreService creates a new store service
func NewStoreService(repo *repository.ArchiveRepository, audit *repository.AuditRepository, files *storage.FileStore, origin string, concurrency int) *StoreService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &StoreService{
		repo:        repo,
		audit:       audit,
		files:       files,
		origin:      origin,
		concurrency: concurrency,
	}
}

// StoreInstances ingests every part of a multipart STOW-RS request and
// accumulates a manifest of per-part outcomes. Parts are independent, so
// they are persisted concurrently; ordering within the manifest sequences
// is not significant.
func (s *StoreService) StoreInstances(ctx context.Context, targetStudyUID string, parts *multipart.Reader, remoteAddr string) (*dicomweb.StoreResponse, error) {
	response := &dicomweb.StoreResponse{
		ReferencedSOPSequence: []dicomweb.ReferencedSOP{},
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for {
		part, err := parts.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A framing error ends the batch; parts already dispatched still
			// complete and the manifest reports everything actually stored.
			log.Warn().Err(err).Msg("Malformed multipart framing, ending batch early")
			metrics.StoreFailures.WithLabelValues("framing").Inc()
			mu.Lock()
			response.OtherFailures = append(response.OtherFailures, dicomweb.FailedSOP{
				FailureReason: dicomweb.ReasonCannotUnderstand,
			})
			mu.Unlock()
			break
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			mu.Lock()
			response.OtherFailures = append(response.OtherFailures, dicomweb.FailedSOP{
				FailureReason: dicomweb.ReasonProcessingFailure,
			})
			mu.Unlock()
			continue
		}

		if ct := part.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, dicomweb.MIMETypeDICOM) {
			mu.Lock()
			response.OtherFailures = append(response.OtherFailures, dicomweb.FailedSOP{
				FailureReason: dicomweb.ReasonCannotUnderstand,
			})
			mu.Unlock()
			metrics.StoreFailures.WithLabelValues("unsupported_part").Inc()
			continue
		}

		g.Go(func() error {
			ref, failed := s.storeOne(ctx, targetStudyUID, data, remoteAddr)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case ref != nil:
				response.ReferencedSOPSequence = append(response.ReferencedSOPSequence, *ref)
			case failed.SOPInstanceUID != "":
				response.FailedSOPSequence = append(response.FailedSOPSequence, *failed)
			default:
				response.OtherFailures = append(response.OtherFailures, *failed)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	response.RetrieveURL = dicomweb.CommonRetrieveURL(s.origin, response.ReferencedSOPSequence)
	return response, nil
}

// storeOne ingests a single data set: decode, validate identifiers, persist
// the raw bytes under a UID-derived path, then commit study, series and
// instance rows in one transaction.
func (s *StoreService) storeOne(ctx context.Context, targetStudyUID string, data []byte, remoteAddr string) (*dicomweb.ReferencedSOP, *dicomweb.FailedSOP) {
	start := time.Now()

	ds, err := dicom.Parse(bytes.NewReader(data), int64(len(data)), nil, dicom.SkipPixelData())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to decode DICOM part")
		metrics.StoreFailures.WithLabelValues("malformed").Inc()
		return nil, &dicomweb.FailedSOP{FailureReason: dicomweb.ReasonCannotUnderstand}
	}

	sopClassUID := dicomweb.ElementString(ds, tag.SOPClassUID)
	sopInstanceUID := dicomweb.ElementString(ds, tag.SOPInstanceUID)
	studyUID := dicomweb.ElementString(ds, tag.StudyInstanceUID)
	seriesUID := dicomweb.ElementString(ds, tag.SeriesInstanceUID)

	failed := func(reason uint16, label string, err error) *dicomweb.FailedSOP {
		log.Warn().Err(err).
			Str("study_uid", studyUID).
			Str("sop_instance_uid", sopInstanceUID).
			Msg("Failed to store instance")
		metrics.StoreFailures.WithLabelValues(label).Inc()
		s.recordAudit(ctx, studyUID, seriesUID, sopInstanceUID, remoteAddr, "failure", err, start)
		return &dicomweb.FailedSOP{
			SOPClassUID:    sopClassUID,
			SOPInstanceUID: sopInstanceUID,
			FailureReason:  reason,
		}
	}

	for _, uid := range []string{studyUID, seriesUID, sopInstanceUID, sopClassUID} {
		if _, err := dicomweb.ParseUID(uid); err != nil {
			return nil, failed(dicomweb.ReasonInvalidIdentifier, "invalid_uid", err)
		}
	}

	if targetStudyUID != "" && studyUID != targetStudyUID {
		err := fmt.Errorf("%w: expected %s, got %s", dicomweb.ErrStudyMismatch, targetStudyUID, studyUID)
		return nil, failed(dicomweb.ReasonDataSetMismatch, "study_mismatch", err)
	}

	study := &models.Study{
		StudyInstanceUID:       studyUID,
		StudyDate:              dicomweb.ElementString(ds, tag.StudyDate),
		StudyTime:              dicomweb.ElementString(ds, tag.StudyTime),
		AccessionNumber:        dicomweb.ElementString(ds, tag.AccessionNumber),
		ReferringPhysicianName: dicomweb.ElementString(ds, tag.ReferringPhysicianName),
		PatientName:            dicomweb.ElementString(ds, tag.PatientName),
		PatientID:              dicomweb.ElementString(ds, tag.PatientID),
		StudyID:                dicomweb.ElementString(ds, tag.StudyID),
	}
	series := &models.Series{
		SeriesInstanceUID:               seriesUID,
		StudyInstanceUID:                studyUID,
		Modality:                        dicomweb.ElementString(ds, tag.Modality),
		SeriesNumber:                    dicomweb.ElementString(ds, tag.SeriesNumber),
		PerformedProcedureStepStartDate: dicomweb.ElementString(ds, tag.PerformedProcedureStepStartDate),
		PerformedProcedureStepStartTime: dicomweb.ElementString(ds, tag.PerformedProcedureStepStartTime),
	}
	instance := &models.Instance{
		SOPInstanceUID:    sopInstanceUID,
		SOPClassUID:       sopClassUID,
		SeriesInstanceUID: seriesUID,
		StudyInstanceUID:  studyUID,
		InstanceNumber:    dicomweb.ElementString(ds, tag.InstanceNumber),
		Path:              s.files.PathFor(sopInstanceUID),
	}

	// The file is written first so metadata never references bytes that are
	// not durably on disk. Exclusive create guarantees a re-submission of an
	// existing UID cannot overwrite the original payload.
	f, err := s.files.Create(instance.Path)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, failed(dicomweb.ReasonDuplicateInstance, "already_exists", dicomweb.ErrDuplicateInstance)
		}
		return nil, failed(dicomweb.ReasonProcessingFailure, "storage", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		s.files.Remove(instance.Path)
		return nil, failed(dicomweb.ReasonProcessingFailure, "storage", err)
	}
	if err := f.Close(); err != nil {
		s.files.Remove(instance.Path)
		return nil, failed(dicomweb.ReasonProcessingFailure, "storage", err)
	}

	if err := s.repo.StoreInstance(ctx, study, series, instance); err != nil {
		s.files.Remove(instance.Path)
		if errors.Is(err, dicomweb.ErrDuplicateInstance) {
			return nil, failed(dicomweb.ReasonDuplicateInstance, "already_exists", err)
		}
		return nil, failed(dicomweb.ReasonProcessingFailure, "storage", err)
	}

	metrics.InstancesStored.Inc()
	s.recordAudit(ctx, studyUID, seriesUID, sopInstanceUID, remoteAddr, "success", nil, start)

	return &dicomweb.ReferencedSOP{
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		SOPClassUID:       sopClassUID,
		SOPInstanceUID:    sopInstanceUID,
		RetrieveURL: fmt.Sprintf("%s/studies/%s/series/%s/instances/%s",
			s.origin, studyUID, seriesUID, sopInstanceUID),
	}, nil
}

func (s *StoreService) recordAudit(ctx context.Context, studyUID, seriesUID, sopInstanceUID, remoteAddr, status string, cause error, start time.Time) {
	entry := &models.AuditLog{
		Action:            models.AuditActionStore,
		StudyInstanceUID:  studyUID,
		SeriesInstanceUID: seriesUID,
		SOPInstanceUID:    sopInstanceUID,
		RemoteAddr:        remoteAddr,
		Status:            status,
		Duration:          time.Since(start).Milliseconds(),
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		log.Warn().Err(err).Msg("Failed to write audit log")
	}
}
