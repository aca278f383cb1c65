package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/observach/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "uploads")
	store, err := Open(ctx, config.StorageConfig{Backend: "local", UploadDir: dir})
	require.NoError(t, err)

	_, err = os.Stat(dir)
	require.NoError(t, err, "Open should create the upload directory")

	payload := []byte("photo bytes")
	require.NoError(t, store.Put(ctx, "photos/a.png", bytes.NewReader(payload), int64(len(payload)), "image/png"))

	body, err := store.Get(ctx, "photos/a.png")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	assert.Equal(t, payload, data)

	require.NoError(t, store.Delete(ctx, "photos/a.png"))
	_, err = store.Get(ctx, "photos/a.png")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.NoError(t, store.Delete(ctx, "photos/a.png"), "deleting a missing object is not an error")
}

func TestLocalDiskStaysInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	disk, err := NewLocalDisk(filepath.Join(root, "uploads"))
	require.NoError(t, err)
	require.NoError(t, disk.EnsureBucket(ctx))

	require.NoError(t, disk.Put(ctx, "../../escape.txt", bytes.NewReader([]byte("x")), 1, "text/plain"))
	_, err = os.Stat(filepath.Join(root, "uploads", "escape.txt"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(err))

	_, err = disk.Get(ctx, "")
	assert.Error(t, err)
	_, err = disk.Get(ctx, `photos\a.png`)
	assert.Error(t, err)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.EqualError(t, err, `unknown storage backend "ftp"`)
}

func TestNewLocalDiskRequiresDirectory(t *testing.T) {
	_, err := NewLocalDisk("  ")
	assert.Error(t, err)
}

type closingBackend struct {
	*LocalDisk
	closed int
}

func (c *closingBackend) Close() error {
	c.closed++
	return nil
}

func TestStorageCloseReleasesClient(t *testing.T) {
	disk, err := NewLocalDisk(t.TempDir())
	require.NoError(t, err)

	backend := &closingBackend{LocalDisk: disk}
	require.NoError(t, NewStorage(backend).Close())
	assert.Equal(t, 1, backend.closed)

	assert.NoError(t, NewStorage(disk).Close())
}
