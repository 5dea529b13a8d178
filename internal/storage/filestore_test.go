package storage

import (
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStoreCreateAndOpen(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path := store.PathFor("1.2.840.1.1")
	assert.Equal(t, "1.2.840.1.1.dcm", path)

	f, err := store.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("DICM payload"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, size, err := store.Open(path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(12), size)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("DICM payload"), data)
}

func TestFileStoreNeverOverwrites(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path := store.PathFor("1.2.3")
	f, err := store.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = store.Create(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrExist)
}

func TestFileStoreRemove(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	path := store.PathFor("1.2.3")
	f, err := store.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, store.Remove(path))

	_, _, err = store.Open(path)
	assert.Error(t, err)
}
