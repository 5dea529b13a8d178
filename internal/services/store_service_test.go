package services

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/otcheredev/dicomweb-archive/internal/dicomweb"
	"github.com/otcheredev/dicomweb-archive/internal/models"
	"github.com/otcheredev/dicomweb-archive/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeBatch(t *testing.T, env *testEnv, targetStudyUID string, payloads ...[]byte) *dicomweb.StoreResponse {
	t.Helper()
	contentType, body := multipartBody(t, payloads...)
	parts, err := dicomweb.OpenRelated(contentType, body)
	require.NoError(t, err)

	response, err := env.store.StoreInstances(context.Background(), targetStudyUID, parts, "127.0.0.1:1234")
	require.NoError(t, err)
	return response
}

func TestStoreInstances(t *testing.T) {
	env := newTestEnv(t)

	a := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1", modality: "CT", instanceNumber: "1"}
	b := testObject{studyUID: "1.2", seriesUID: "1.2.2", sopUID: "1.2.2.1", modality: "MR", instanceNumber: "1"}

	response := storeBatch(t, env, "", a.encode(t), b.encode(t))

	require.Len(t, response.ReferencedSOPSequence, 2)
	assert.Empty(t, response.FailedSOPSequence)
	assert.Empty(t, response.OtherFailures)
	assert.False(t, response.AllFailed())

	// Both parts share the study, so the common URL stops at the study.
	assert.Equal(t, testOrigin+"/studies/1.2", response.RetrieveURL)

	for _, ref := range response.ReferencedSOPSequence {
		assert.Equal(t, testOrigin+"/studies/1.2/series/"+ref.SeriesInstanceUID+"/instances/"+ref.SOPInstanceUID,
			ref.RetrieveURL)
	}

	instances, err := env.repo.QueryInstances(context.Background(), "1.2", "", nil, repository.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestStoreInstancesBitExact(t *testing.T) {
	env := newTestEnv(t)

	payload := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1"}.encode(t)
	response := storeBatch(t, env, "", payload)
	require.Len(t, response.ReferencedSOPSequence, 1)

	instances, err := env.retrieve.Resolve(context.Background(), "1.2", "1.2.1", "1.2.1.1")
	require.NoError(t, err)
	require.Len(t, instances, 1)

	f, size, err := env.retrieve.OpenInstance(instances[0])
	require.NoError(t, err)
	defer f.Close()

	stored := make([]byte, size)
	_, err = io.ReadFull(f, stored)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestStoreInstancesPartialFailure(t *testing.T) {
	env := newTestEnv(t)

	a := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1"}.encode(t)
	garbage := []byte("this is not a DICOM payload")
	b := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.2"}.encode(t)

	response := storeBatch(t, env, "", a, garbage, b)

	assert.Len(t, response.ReferencedSOPSequence, 2)
	require.Len(t, response.OtherFailures, 1)
	assert.Equal(t, dicomweb.ReasonCannotUnderstand, response.OtherFailures[0].FailureReason)
	assert.False(t, response.AllFailed())

	instances, err := env.repo.QueryInstances(context.Background(), "1.2", "", nil, repository.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, instances, 2)
}

func TestStoreInstancesTruncatedBody(t *testing.T) {
	env := newTestEnv(t)

	payload := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1"}.encode(t)
	contentType, body := multipartBody(t, payload)

	// Rewrite the closing boundary into an opening one with nothing after it,
	// the shape a client dying mid-upload leaves behind.
	raw := body.Bytes()
	truncated := append(raw[:len(raw)-4], '\r', '\n')

	parts, err := dicomweb.OpenRelated(contentType, bytes.NewReader(truncated))
	require.NoError(t, err)
	response, err := env.store.StoreInstances(context.Background(), "", parts, "127.0.0.1:1234")
	require.NoError(t, err)

	// The valid part is stored and reported; the framing error is one more
	// per-part failure, not a failure of the whole request.
	require.Len(t, response.ReferencedSOPSequence, 1)
	require.Len(t, response.OtherFailures, 1)
	assert.Equal(t, dicomweb.ReasonCannotUnderstand, response.OtherFailures[0].FailureReason)
	assert.False(t, response.AllFailed())

	instances, err := env.repo.QueryInstances(context.Background(), "1.2", "", nil, repository.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestStoreInstancesDuplicate(t *testing.T) {
	env := newTestEnv(t)

	obj := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1", instanceNumber: "1"}
	payload := obj.encode(t)

	first := storeBatch(t, env, "", payload)
	require.Len(t, first.ReferencedSOPSequence, 1)

	second := storeBatch(t, env, "", payload)
	assert.Empty(t, second.ReferencedSOPSequence)
	require.Len(t, second.FailedSOPSequence, 1)
	assert.Equal(t, dicomweb.ReasonDuplicateInstance, second.FailedSOPSequence[0].FailureReason)
	assert.Equal(t, "1.2.1.1", second.FailedSOPSequence[0].SOPInstanceUID)
	assert.True(t, second.AllFailed())

	// The originally stored file is untouched.
	f, _, err := env.files.Open(env.files.PathFor("1.2.1.1"))
	require.NoError(t, err)
	f.Close()
}

func TestStoreInstancesStudyMismatch(t *testing.T) {
	env := newTestEnv(t)

	payload := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1"}.encode(t)
	response := storeBatch(t, env, "9.9", payload)

	require.Len(t, response.FailedSOPSequence, 1)
	assert.Equal(t, dicomweb.ReasonDataSetMismatch, response.FailedSOPSequence[0].FailureReason)
	assert.True(t, response.AllFailed())

	// Nothing persisted, neither metadata nor file.
	_, err := env.repo.ResolveInstances(context.Background(), "1.2", "", "")
	assert.ErrorIs(t, err, dicomweb.ErrNotFound)
	_, _, err = env.files.Open(env.files.PathFor("1.2.1.1"))
	assert.Error(t, err)
}

func TestStoreInstancesInvalidUID(t *testing.T) {
	env := newTestEnv(t)

	payload := testObject{studyUID: "1..2", seriesUID: "1.2.1", sopUID: "1.2.1.1"}.encode(t)
	response := storeBatch(t, env, "", payload)

	require.Len(t, response.FailedSOPSequence, 1)
	assert.Equal(t, dicomweb.ReasonInvalidIdentifier, response.FailedSOPSequence[0].FailureReason)
}

func TestStoreInstancesAuditTrail(t *testing.T) {
	env := newTestEnv(t)

	payload := testObject{studyUID: "1.2", seriesUID: "1.2.1", sopUID: "1.2.1.1"}.encode(t)
	storeBatch(t, env, "", payload)

	logs, err := env.audit.GetByStudyUID(context.Background(), "1.2")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionStore, logs[0].Action)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, "127.0.0.1:1234", logs[0].RemoteAddr)
}
