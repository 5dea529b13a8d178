package services

import (
	"context"
	"net/url"
	"testing"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchStudies(t *testing.T) {
	env := newTestEnv(t)

	storeBatch(t, env, "",
		testObject{studyUID: "1.1", seriesUID: "1.1.1", sopUID: "1.1.1.1", patientName: "SMITH^JOHN", studyDate: "20240110", modality: "CT"}.encode(t),
		testObject{studyUID: "1.1", seriesUID: "1.1.2", sopUID: "1.1.2.1", patientName: "SMITH^JOHN", studyDate: "20240110", modality: "MR"}.encode(t),
		testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1", patientName: "DOE^JANE", studyDate: "20230601", modality: "US"}.encode(t),
	)

	results, err := env.query.SearchStudies(context.Background(), url.Values{"PatientName": {"SM*"}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	study := results[0]
	assert.Equal(t, "1.1", study.StudyInstanceUID)
	assert.Equal(t, "SMITH^JOHN", study.PatientName)
	assert.Equal(t, 2, study.NumberOfStudyRelatedSeries)
	assert.Equal(t, 2, study.NumberOfStudyRelatedInstances)
	assert.Equal(t, []string{"CT", "MR"}, study.ModalitiesInStudy)
	assert.Equal(t, testOrigin+"/studies/1.1", study.RetrieveURL)
}

func TestSearchStudiesDateRange(t *testing.T) {
	env := newTestEnv(t)

	storeBatch(t, env, "",
		testObject{studyUID: "1.1", seriesUID: "1.1.1", sopUID: "1.1.1.1", studyDate: "20240110"}.encode(t),
		testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1", studyDate: "20230601"}.encode(t),
	)

	results, err := env.query.SearchStudies(context.Background(), url.Values{"StudyDate": {"20240101-20241231"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1.1", results[0].StudyInstanceUID)
}

func TestSearchStudiesIgnoresUnknownAttributes(t *testing.T) {
	env := newTestEnv(t)

	storeBatch(t, env, "",
		testObject{studyUID: "1.1", seriesUID: "1.1.1", sopUID: "1.1.1.1"}.encode(t))

	results, err := env.query.SearchStudies(context.Background(), url.Values{
		"BodyPartExamined": {"CHEST"},
		"includefield":     {"all"},
		"fuzzymatching":    {"true"},
	})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchStudiesInvalidPagination(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.query.SearchStudies(context.Background(), url.Values{"limit": {"zero"}})
	assert.ErrorIs(t, err, dicomweb.ErrInvalidQuery)

	_, err = env.query.SearchStudies(context.Background(), url.Values{"offset": {"-1"}})
	assert.ErrorIs(t, err, dicomweb.ErrInvalidQuery)

	_, err = env.query.SearchStudies(context.Background(), url.Values{"sort": {"NoSuchAttribute"}})
	assert.ErrorIs(t, err, dicomweb.ErrInvalidQuery)
}

func TestSearchStudiesEmptyResult(t *testing.T) {
	env := newTestEnv(t)

	results, err := env.query.SearchStudies(context.Background(), url.Values{"PatientID": {"NOBODY"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchSeries(t *testing.T) {
	env := newTestEnv(t)

	storeBatch(t, env, "",
		testObject{studyUID: "1.1", seriesUID: "1.1.1", sopUID: "1.1.1.1", modality: "CT"}.encode(t),
		testObject{studyUID: "1.1", seriesUID: "1.1.1", sopUID: "1.1.1.2", modality: "CT"}.encode(t),
		testObject{studyUID: "1.1", seriesUID: "1.1.2", sopUID: "1.1.2.1", modality: "MR"}.encode(t),
	)

	results, err := env.query.SearchSeries(context.Background(), "1.1", url.Values{"Modality": {"CT"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1.1.1", results[0].SeriesInstanceUID)
	assert.Equal(t, 2, results[0].NumberOfSeriesRelatedInstances)
	assert.Equal(t, testOrigin+"/studies/1.1/series/1.1.1", results[0].RetrieveURL)

	_, err = env.query.SearchSeries(context.Background(), "not-a-uid", nil)
	assert.ErrorIs(t, err, dicomweb.ErrInvalidIdentifier)
}

func TestSearchInstances(t *testing.T) {
	env := newTestEnv(t)

	storeBatch(t, env, "",
		testObject{studyUID: "1.1", seriesUID: "1.1.1", sopUID: "1.1.1.1", instanceNumber: "1"}.encode(t),
		testObject{studyUID: "1.1", seriesUID: "1.1.2", sopUID: "1.1.2.1", instanceNumber: "1"}.encode(t),
	)

	all, err := env.query.SearchInstances(context.Background(), "1.1", "", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := env.query.SearchInstances(context.Background(), "1.1", "1.1.2", nil)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "1.1.2.1", scoped[0].SOPInstanceUID)
	assert.Equal(t, testOrigin+"/studies/1.1/series/1.1.2/instances/1.1.2.1", scoped[0].RetrieveURL)
}
