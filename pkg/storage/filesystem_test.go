package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *LocalStorage {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestLocalStorageSaveAndOpen(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.Save("exports/demo/replies.csv", []byte("a,b"))
	require.NoError(t, err)

	file, err := store.Open("exports/demo/replies.csv")
	require.NoError(t, err)
	defer file.Close()
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "a,b", string(data))
}

func TestLocalStoragePromoteMovesTempFile(t *testing.T) {
	store := newTestStorage(t)

	written, err := store.SaveTemp("upload-1", strings.NewReader("content"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), written)

	require.NoError(t, store.Promote("upload-1", "attachments/upload-1"))

	_, err = os.Stat(store.Path(filepath.Join("temp", "upload-1")))
	assert.True(t, os.IsNotExist(err))

	file, err := store.Open("attachments/upload-1")
	require.NoError(t, err)
	file.Close()
}

func TestLocalStorageDeleteMissingIsNoop(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.Delete("nope"))
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.SaveTemp("stale", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = store.SaveTemp("fresh", strings.NewReader("y"))
	require.NoError(t, err)

	stalePath := store.Path(filepath.Join("temp", "stale"))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, old, old))

	deleted, err := store.CleanupOlderThan("temp", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Contains(t, deleted[0], "stale")

	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(store.Path(filepath.Join("temp", "fresh")))
	assert.NoError(t, err)
}
