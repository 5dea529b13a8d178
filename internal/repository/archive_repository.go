package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArchiveRepository is the metadata store: it owns the relational hierarchy
// of studies, series and instances and the derived aggregate attributes.
// Aggregates are recomputed on every read; they are never persisted.
type ArchiveRepository struct {
	db *gorm.DB
}

// NewArchiveRepository creates a new archive repository
func NewArchiveRepository(db *gorm.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// QueryOptions carries pagination and the optional sort attribute.
type QueryOptions struct {
	Limit  int
	Offset int
	// Sort is a database column validated against the tag table by the
	// caller. Empty means primary-key order.
	Sort string
}

// StudyAggregate is a study row joined with its derived aggregates.
type StudyAggregate struct {
	models.Study
	NumberOfStudyRelatedSeries    int      `gorm:"column:number_of_study_related_series"`
	NumberOfStudyRelatedInstances int      `gorm:"column:number_of_study_related_instances"`
	ModalitiesInStudy             []string `gorm:"-"`
	RepresentativePath            string   `gorm:"-"`
}

// SeriesAggregate is a series row joined with its derived aggregates.
type SeriesAggregate struct {
	models.Series
	NumberOfSeriesRelatedInstances int    `gorm:"column:number_of_series_related_instances"`
	RepresentativePath             string `gorm:"-"`
}

// StoreInstance persists one ingested instance in a single transaction:
// create-if-absent study, create-if-absent series, insert instance. Rows are
// immutable once created, so the upserts never update existing attributes. A
// SOP Instance UID collision fails the whole transaction with
// ErrDuplicateInstance; nothing partially applies.
func (r *ArchiveRepository) StoreInstance(ctx context.Context, study *models.Study, series *models.Series, instance *models.Instance) error {
	// Integer strings persist in canonical form (no leading zeros), matching
	// the equality the query translation emits.
	series.SeriesNumber = dicomweb.CanonicalIntegerString(series.SeriesNumber)
	instance.InstanceNumber = dicomweb.CanonicalIntegerString(instance.InstanceNumber)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := upsert(tx, "study_instance_uid", study); err != nil {
			return fmt.Errorf("failed to save study: %w", err)
		}
		if _, err := upsert(tx, "series_instance_uid", series); err != nil {
			return fmt.Errorf("failed to save series: %w", err)
		}
		if err := tx.Create(instance).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return dicomweb.ErrDuplicateInstance
			}
			return fmt.Errorf("failed to save instance: %w", err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, dicomweb.ErrDuplicateInstance) {
		return fmt.Errorf("%w: %v", dicomweb.ErrStorageFailure, err)
	}
	return err
}

// upsert inserts a row unless its primary key already exists and reports
// whether the row was newly created. Existing rows are left untouched.
func upsert(tx *gorm.DB, pkColumn string, row any) (bool, error) {
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: pkColumn}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// QueryStudies returns studies matching the criteria, joined with the
// derived counts, modality set and representative path.
func (r *ArchiveRepository) QueryStudies(ctx context.Context, criteria []dicomweb.Matcher, opts QueryOptions) ([]StudyAggregate, error) {
	q := r.db.WithContext(ctx).Model(&models.Study{}).
		Select("studies.*, " +
			"COUNT(DISTINCT series.series_instance_uid) AS number_of_study_related_series, " +
			"COUNT(DISTINCT instances.sop_instance_uid) AS number_of_study_related_instances").
		Joins("LEFT JOIN series ON series.study_instance_uid = studies.study_instance_uid").
		Joins("LEFT JOIN instances ON instances.study_instance_uid = studies.study_instance_uid").
		Group("studies.study_instance_uid")

	q = applyCriteria(q, "studies", criteria)
	q = applyOptions(q, "studies", "study_instance_uid", opts)

	var studies []StudyAggregate
	if err := q.Find(&studies).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query studies: %v", dicomweb.ErrStorageFailure, err)
	}
	if len(studies) == 0 {
		return studies, nil
	}

	uids := make([]string, 0, len(studies))
	for i := range studies {
		uids = append(uids, studies[i].StudyInstanceUID)
	}

	modalities, err := r.studyModalities(ctx, uids)
	if err != nil {
		return nil, err
	}
	paths, err := r.representativePaths(ctx, "study_instance_uid", uids,
		func(in models.Instance) string { return in.StudyInstanceUID })
	if err != nil {
		return nil, err
	}
	for i := range studies {
		studies[i].ModalitiesInStudy = modalities[studies[i].StudyInstanceUID]
		studies[i].RepresentativePath = paths[studies[i].StudyInstanceUID]
	}

	return studies, nil
}

// QuerySeries returns the series of a study matching the criteria, joined
// with the derived instance count and representative path.
func (r *ArchiveRepository) QuerySeries(ctx context.Context, studyUID string, criteria []dicomweb.Matcher, opts QueryOptions) ([]SeriesAggregate, error) {
	q := r.db.WithContext(ctx).Model(&models.Series{}).
		Select("series.*, COUNT(instances.sop_instance_uid) AS number_of_series_related_instances").
		Joins("LEFT JOIN instances ON instances.series_instance_uid = series.series_instance_uid").
		Where("series.study_instance_uid = ?", studyUID).
		Group("series.series_instance_uid")

	q = applyCriteria(q, "series", criteria)
	q = applyOptions(q, "series", "series_instance_uid", opts)

	var series []SeriesAggregate
	if err := q.Find(&series).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query series: %v", dicomweb.ErrStorageFailure, err)
	}
	if len(series) == 0 {
		return series, nil
	}

	uids := make([]string, 0, len(series))
	for i := range series {
		uids = append(uids, series[i].SeriesInstanceUID)
	}
	paths, err := r.representativePaths(ctx, "series_instance_uid", uids,
		func(in models.Instance) string { return in.SeriesInstanceUID })
	if err != nil {
		return nil, err
	}
	for i := range series {
		series[i].RepresentativePath = paths[series[i].SeriesInstanceUID]
	}

	return series, nil
}

// QueryInstances returns the instances of a study (and optionally one of its
// series) matching the criteria.
func (r *ArchiveRepository) QueryInstances(ctx context.Context, studyUID, seriesUID string, criteria []dicomweb.Matcher, opts QueryOptions) ([]models.Instance, error) {
	q := r.db.WithContext(ctx).Model(&models.Instance{}).
		Where("instances.study_instance_uid = ?", studyUID)
	if seriesUID != "" {
		q = q.Where("instances.series_instance_uid = ?", seriesUID)
	}

	q = applyCriteria(q, "instances", criteria)
	q = applyOptions(q, "instances", "sop_instance_uid", opts)

	var instances []models.Instance
	if err := q.Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to query instances: %v", dicomweb.ErrStorageFailure, err)
	}
	return instances, nil
}

// ResolveInstances resolves a WADO-RS locator to stored instances. Empty
// locator components widen the scope: (study) selects the whole study,
// (study, series) one series, (study, series, sop) a single instance. The
// result is in representative order, most representative first. Fails with
// ErrNotFound when nothing matches.
func (r *ArchiveRepository) ResolveInstances(ctx context.Context, studyUID, seriesUID, sopInstanceUID string) ([]models.Instance, error) {
	q := r.db.WithContext(ctx).Where("study_instance_uid = ?", studyUID)
	if seriesUID != "" {
		q = q.Where("series_instance_uid = ?", seriesUID)
	}
	if sopInstanceUID != "" {
		q = q.Where("sop_instance_uid = ?", sopInstanceUID)
	}

	var instances []models.Instance
	if err := q.Find(&instances).Error; err != nil {
		return nil, fmt.Errorf("%w: failed to resolve instances: %v", dicomweb.ErrStorageFailure, err)
	}
	if len(instances) == 0 {
		return nil, dicomweb.ErrNotFound
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return representativeLess(instances[i], instances[j])
	})
	return instances, nil
}

// ResolveInstancePath returns the stored file reference of a single instance.
func (r *ArchiveRepository) ResolveInstancePath(ctx context.Context, studyUID, seriesUID, sopInstanceUID string) (string, error) {
	instances, err := r.ResolveInstances(ctx, studyUID, seriesUID, sopInstanceUID)
	if err != nil {
		return "", err
	}
	return instances[0].Path, nil
}

// RepresentativePath returns the file reference of the representative
// instance of a study or series, or "" when no instance exists.
func (r *ArchiveRepository) RepresentativePath(ctx context.Context, studyUID, seriesUID string) (string, error) {
	instances, err := r.ResolveInstances(ctx, studyUID, seriesUID, "")
	if errors.Is(err, dicomweb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return instances[0].Path, nil
}

// studyModalities returns the distinct modality set per study for a whole
// page of study UIDs in one query.
func (r *ArchiveRepository) studyModalities(ctx context.Context, studyUIDs []string) (map[string][]string, error) {
	var rows []struct {
		StudyInstanceUID string
		Modality         string
	}
	err := r.db.WithContext(ctx).Model(&models.Series{}).
		Distinct("study_instance_uid", "modality").
		Where("study_instance_uid IN ? AND modality <> ''", studyUIDs).
		Order("study_instance_uid, modality").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query modalities: %v", dicomweb.ErrStorageFailure, err)
	}

	modalities := make(map[string][]string, len(studyUIDs))
	for _, row := range rows {
		modalities[row.StudyInstanceUID] = append(modalities[row.StudyInstanceUID], row.Modality)
	}
	return modalities, nil
}

// representativePaths returns the representative instance path per group in
// one query over the page of group UIDs. column scopes the instance fetch
// and key extracts the grouping UID from a row.
func (r *ArchiveRepository) representativePaths(ctx context.Context, column string, uids []string, key func(models.Instance) string) (map[string]string, error) {
	var instances []models.Instance
	err := r.db.WithContext(ctx).Where(column+" IN ?", uids).Find(&instances).Error
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query representative instances: %v", dicomweb.ErrStorageFailure, err)
	}

	best := make(map[string]models.Instance, len(uids))
	for _, in := range instances {
		k := key(in)
		cur, ok := best[k]
		if !ok || representativeLess(in, cur) {
			best[k] = in
		}
	}
	paths := make(map[string]string, len(best))
	for k, in := range best {
		paths[k] = in.Path
	}
	return paths, nil
}

func applyCriteria(q *gorm.DB, table string, criteria []dicomweb.Matcher) *gorm.DB {
	for _, m := range criteria {
		cond, args := m.Condition(table + "." + m.Tag.Column)
		if cond != "" {
			q = q.Where(cond, args...)
		}
	}
	return q
}

func applyOptions(q *gorm.DB, table, pkColumn string, opts QueryOptions) *gorm.DB {
	order := table + "." + pkColumn
	if opts.Sort != "" && opts.Sort != pkColumn {
		order = table + "." + opts.Sort + ", " + order
	}
	q = q.Order(order)
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q
}

// representativeLess is the total order behind the representative-instance
// selection: numeric instance numbers ascending, blank or non-numeric
// instance numbers after all numeric ones, then earliest creation time,
// then SOP Instance UID.
func representativeLess(a, b models.Instance) bool {
	an, aok := instanceNumber(a.InstanceNumber)
	bn, bok := instanceNumber(b.InstanceNumber)

	switch {
	case aok && bok && an != bn:
		return an < bn
	case aok != bok:
		return aok
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.SOPInstanceUID < b.SOPInstanceUID
}

func instanceNumber(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}
