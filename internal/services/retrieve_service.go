package services

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/otcheredev/dicomweb-archive/internal/cache"
	"github.com/otcheredev/dicomweb-archive/internal/codec"
	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/metrics"
	"github.com/otcheredev/dicomweb-archive/internal/models"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/otcheredev/dicomweb-archive/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
)

// ThumbnailSize is the bounding box for thumbnail rendering, in pixels.
const ThumbnailSize = 256

// RetrieveService implements WADO-RS retrieval: as-stored streaming,
// metadata projection and consumer-format rendering of stored instances.
type RetrieveService struct {
	repo     *repository.ArchiveRepository
	audit    *repository.AuditRepository
	files    *storage.FileStore
	codec    codec.Codec
	cache    cache.Cache
	origin   string
	cacheTTL time.Duration
}

// NewRetrieveService creates a new retrieve service
func NewRetrieveService(repo *repository.ArchiveRepository, audit *repository.AuditRepository, files *storage.FileStore, c codec.Codec, renderCache cache.Cache, origin string, cacheTTL time.Duration) *RetrieveService {
	return &RetrieveService{
		repo:     repo,
		audit:    audit,
		files:    files,
		codec:    c,
		cache:    renderCache,
		origin:   origin,
		cacheTTL: cacheTTL,
	}
}

// Resolve returns the stored instances addressed by a study, optional series
// and optional SOP instance UID, in representative order.
func (s *RetrieveService) Resolve(ctx context.Context, studyUID, seriesUID, sopInstanceUID string) ([]models.Instance, error) {
	if _, err := dicomweb.ParseUID(studyUID); err != nil {
		return nil, err
	}
	if seriesUID != "" {
		if _, err := dicomweb.ParseUID(seriesUID); err != nil {
			return nil, err
		}
	}
	if sopInstanceUID != "" {
		if _, err := dicomweb.ParseUID(sopInstanceUID); err != nil {
			return nil, err
		}
	}
	return s.repo.ResolveInstances(ctx, studyUID, seriesUID, sopInstanceUID)
}

// OpenInstance opens the stored file for an instance. A metadata row whose
// file is missing is an internal inconsistency, not a client error.
func (s *RetrieveService) OpenInstance(instance models.Instance) (io.ReadCloser, int64, error) {
	f, size, err := s.files.Open(instance.Path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: instance %s has no stored file", dicomweb.ErrStorageFailure, instance.SOPInstanceUID)
	}
	return f, size, nil
}

// Metadata returns one DICOM JSON metadata object per resolved instance.
// Bulk pixel data and sequences are omitted; a Retrieve URL attribute is
// added so consumers can fetch the full object.
func (s *RetrieveService) Metadata(ctx context.Context, studyUID, seriesUID, sopInstanceUID string) ([]map[string]dicomweb.Attribute, error) {
	instances, err := s.Resolve(ctx, studyUID, seriesUID, sopInstanceUID)
	if err != nil {
		return nil, err
	}

	objects := make([]map[string]dicomweb.Attribute, 0, len(instances))
	for _, instance := range instances {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, size, err := s.OpenInstance(instance)
		if err != nil {
			return nil, err
		}
		ds, err := dicom.Parse(f, size, nil, dicom.SkipPixelData())
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dicomweb.ErrMalformedDataSet, err)
		}

		object := dicomweb.MetadataObject(ds)
		object["00081190"] = dicomweb.Attribute{
			VR: "UR",
			Value: []any{fmt.Sprintf("%s/studies/%s/series/%s/instances/%s",
				s.origin, instance.StudyInstanceUID, instance.SeriesInstanceUID, instance.SOPInstanceUID)},
		}
		objects = append(objects, object)
	}
	return objects, nil
}

// Rendered produces a consumer-format rendering of one frame of the
// representative instance under the given scope. A frame number of zero
// selects the first frame. Renderings are cached keyed by instance, frame
// and media type; stored instances are immutable so entries never go stale.
func (s *RetrieveService) Rendered(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, frameNumber int, mediaType string, thumbnail bool) ([]byte, error) {
	instances, err := s.Resolve(ctx, studyUID, seriesUID, sopInstanceUID)
	if err != nil {
		return nil, err
	}
	instance := instances[0]

	key := cache.RenderKey(instance.SOPInstanceUID, frameNumber, mediaType, thumbnail)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		metrics.RenderCacheHits.Inc()
		return cached, nil
	}

	start := time.Now()
	result, err := s.decodeInstance(instance)
	if err != nil {
		return nil, err
	}

	frame, err := selectFrame(result.Frames, frameNumber)
	if err != nil {
		return nil, err
	}
	if thumbnail {
		frame = codec.Thumbnail(frame, ThumbnailSize)
	}

	rendered, err := s.codec.Encode(frame, mediaType)
	if err != nil {
		return nil, err
	}
	metrics.RenderDuration.Observe(time.Since(start).Seconds())

	if err := s.cache.Set(ctx, key, rendered, s.cacheTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache rendered frame")
	}
	return rendered, nil
}

// Frames returns the decoded pixel data of the requested frames of one
// instance, one byte slice per frame, in the requested order. Frame numbers
// are one-based.
func (s *RetrieveService) Frames(ctx context.Context, studyUID, seriesUID, sopInstanceUID string, frameNumbers []int) ([][]byte, error) {
	instances, err := s.Resolve(ctx, studyUID, seriesUID, sopInstanceUID)
	if err != nil {
		return nil, err
	}

	result, err := s.decodeInstance(instances[0])
	if err != nil {
		return nil, err
	}

	out := make([][]byte, 0, len(frameNumbers))
	for _, n := range frameNumbers {
		frame, err := selectFrame(result.Frames, n)
		if err != nil {
			return nil, err
		}
		raw, err := s.codec.Encode(frame, "application/octet-stream")
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// RecordRetrieve writes an audit trail entry for a retrieval. Failures to
// audit are logged, never surfaced to the client.
func (s *RetrieveService) RecordRetrieve(ctx context.Context, action, studyUID, seriesUID, sopInstanceUID, remoteAddr, status string, cause error, start time.Time) {
	entry := &models.AuditLog{
		Action:            action,
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

func (s *RetrieveService) decodeInstance(instance models.Instance) (*codec.DecodeResult, error) {
	f, size, err := s.OpenInstance(instance)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return s.codec.Decode(f, size)
}

// selectFrame picks a one-based frame; zero means the first frame.
func selectFrame(frames []image.Image, n int) (image.Image, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no decodable frames", dicomweb.ErrTranscodeFailure)
	}
	if n == 0 {
		n = 1
	}
	if n < 1 || n > len(frames) {
		return nil, fmt.Errorf("%w: frame %d of %d", dicomweb.ErrNotFound, n, len(frames))
	}
	return frames[n-1], nil
}
