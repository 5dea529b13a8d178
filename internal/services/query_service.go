package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/metrics"
	"github.com/otcheredev/dicomweb-archive/internal/models"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// QueryService implements QIDO-RS searches over the archive metadata.
type QueryService struct {
	repo   *repository.ArchiveRepository
	origin string
}

// NewQueryService creates a new query service
func NewQueryService(repo *repository.ArchiveRepository, origin string) *QueryService {
	return &QueryService{repo: repo, origin: origin}
}

// SearchStudies runs a study-level QIDO-RS search.
func (s *QueryService) SearchStudies(ctx context.Context, params url.Values) ([]models.StudyResult, error) {
	criteria, opts, err := parseSearchParams(params, dicomweb.LevelStudy)
	if err != nil {
		return nil, err
	}
	metrics.Queries.WithLabelValues(dicomweb.LevelStudy.String()).Inc()

	rows, err := s.repo.QueryStudies(ctx, criteria, opts)
	if err != nil {
		return nil, err
	}

	results := make([]models.StudyResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.StudyResult{
			StudyDate:                     row.StudyDate,
			StudyTime:                     row.StudyTime,
			AccessionNumber:               row.AccessionNumber,
			ModalitiesInStudy:             row.ModalitiesInStudy,
			ReferringPhysicianName:        row.ReferringPhysicianName,
			PatientName:                   row.PatientName,
			PatientID:                     row.PatientID,
			StudyInstanceUID:              row.StudyInstanceUID,
			StudyID:                       row.StudyID,
			NumberOfStudyRelatedSeries:    row.NumberOfStudyRelatedSeries,
			NumberOfStudyRelatedInstances: row.NumberOfStudyRelatedInstances,
			RetrieveURL:                   fmt.Sprintf("%s/studies/%s", s.origin, row.StudyInstanceUID),
		})
	}
	return results, nil
}

// SearchSeries runs a series-level QIDO-RS search scoped to one study.
func (s *QueryService) SearchSeries(ctx context.Context, studyUID string, params url.Values) ([]models.SeriesResult, error) {
	if _, err := dicomweb.ParseUID(studyUID); err != nil {
		return nil, err
	}
	criteria, opts, err := parseSearchParams(params, dicomweb.LevelSeries)
	if err != nil {
		return nil, err
	}
	metrics.Queries.WithLabelValues(dicomweb.LevelSeries.String()).Inc()

	rows, err := s.repo.QuerySeries(ctx, studyUID, criteria, opts)
	if err != nil {
		return nil, err
	}

	results := make([]models.SeriesResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.SeriesResult{
			Modality:                        row.Modality,
			SeriesInstanceUID:               row.SeriesInstanceUID,
			SeriesNumber:                    row.SeriesNumber,
			PerformedProcedureStepStartDate: row.PerformedProcedureStepStartDate,
			PerformedProcedureStepStartTime: row.PerformedProcedureStepStartTime,
			NumberOfSeriesRelatedInstances:  row.NumberOfSeriesRelatedInstances,
			RetrieveURL: fmt.Sprintf("%s/studies/%s/series/%s",
				s.origin, row.StudyInstanceUID, row.SeriesInstanceUID),
		})
	}
	return results, nil
}

// SearchInstances runs an instance-level QIDO-RS search scoped to a study
// and optionally to one series within it.
func (s *QueryService) SearchInstances(ctx context.Context, studyUID, seriesUID string, params url.Values) ([]models.InstanceResult, error) {
	if _, err := dicomweb.ParseUID(studyUID); err != nil {
		return nil, err
	}
	if seriesUID != "" {
		if _, err := dicomweb.ParseUID(seriesUID); err != nil {
			return nil, err
		}
	}
	criteria, opts, err := parseSearchParams(params, dicomweb.LevelInstance)
	if err != nil {
		return nil, err
	}
	metrics.Queries.WithLabelValues(dicomweb.LevelInstance.String()).Inc()

	rows, err := s.repo.QueryInstances(ctx, studyUID, seriesUID, criteria, opts)
	if err != nil {
		return nil, err
	}

	results := make([]models.InstanceResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, models.InstanceResult{
			SOPClassUID:    row.SOPClassUID,
			SOPInstanceUID: row.SOPInstanceUID,
			InstanceNumber: row.InstanceNumber,
			RetrieveURL: fmt.Sprintf("%s/studies/%s/series/%s/instances/%s",
				s.origin, row.StudyInstanceUID, row.SeriesInstanceUID, row.SOPInstanceUID),
		})
	}
	return results, nil
}

// reserved query parameters that are never attribute matchers
var controlParams = map[string]bool{
	"limit":         true,
	"offset":        true,
	"includefield":  true,
	"fuzzymatching": true,
	"sort":          true,
}

// parseSearchParams turns QIDO-RS query parameters into matchers against the
// searchable attribute set of the given level. Parameters naming attributes
// outside that set are ignored rather than rejected; clients routinely send
// includefield-style extras.
func parseSearchParams(params url.Values, level dicomweb.Level) ([]dicomweb.Matcher, repository.QueryOptions, error) {
	opts := repository.QueryOptions{Limit: defaultQueryLimit}
	var criteria []dicomweb.Matcher

	for name, values := range params {
		if len(values) == 0 {
			continue
		}
		value := values[0]

		if controlParams[strings.ToLower(name)] {
			continue
		}

		t, ok := dicomweb.FindTag(level, name)
		if !ok {
			log.Debug().Str("param", name).Msg("Ignoring unsupported search attribute")
			continue
		}
		criteria = append(criteria, dicomweb.NewMatcher(t, value))
	}

	if raw := params.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return nil, opts, fmt.Errorf("%w: invalid limit %q", dicomweb.ErrInvalidQuery, raw)
		}
		if n > maxQueryLimit {
			n = maxQueryLimit
		}
		opts.Limit = n
	}
	if raw := params.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, opts, fmt.Errorf("%w: invalid offset %q", dicomweb.ErrInvalidQuery, raw)
		}
		opts.Offset = n
	}
	if raw := params.Get("sort"); raw != "" {
		t, ok := dicomweb.FindTag(level, raw)
		if !ok {
			return nil, opts, fmt.Errorf("%w: unsupported sort attribute %q", dicomweb.ErrInvalidQuery, raw)
		}
		opts.Sort = t.Column
	}

	return criteria, opts, nil
}
