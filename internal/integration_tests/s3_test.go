package integrationtests

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bnn-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bucketName = "test-bucket"

func setupTestObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        endpoint,
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	require.NoError(t, objectStore.CreateBucket(ctx, bucketName))
	return objectStore
}

func TestS3ObjectStore_PutGetObject(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupTestObjectStore(t, ctx)

	require.NoError(t, store.PutObject(ctx, bucketName, "runs/abc/log.csv", strings.NewReader("epoch,train_loss\n1,0.5\n")))

	obj, err := store.GetObject(ctx, bucketName, "runs/abc/log.csv")
	require.NoError(t, err)
	defer obj.Close()

	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, "epoch,train_loss\n1,0.5\n", string(data))
}

func TestS3ObjectStore_UploadDownloadDir(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupTestObjectStore(t, ctx)

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "log.csv"), []byte("epoch\n1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "model.json"), []byte("{}"), 0644))

	require.NoError(t, store.UploadDir(ctx, bucketName, "runs/abc", src))

	dest := t.TempDir()
	require.NoError(t, store.DownloadDir(ctx, bucketName, "runs/abc", dest, false))

	data, err := os.ReadFile(filepath.Join(dest, "log.csv"))
	require.NoError(t, err)
	assert.Equal(t, "epoch\n1\n", string(data))

	_, err = os.Stat(filepath.Join(dest, "model.json"))
	require.NoError(t, err)
}

func TestS3ObjectStore_DeleteObjects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store := setupTestObjectStore(t, ctx)

	require.NoError(t, store.PutObject(ctx, bucketName, "runs/abc/log.csv", strings.NewReader("a")))
	require.NoError(t, store.PutObject(ctx, bucketName, "runs/xyz/log.csv", strings.NewReader("b")))

	require.NoError(t, store.DeleteObjects(ctx, bucketName, "runs/abc"))

	_, err := store.GetObject(ctx, bucketName, "runs/abc/log.csv")
	assert.Error(t, err, "deleted object should be gone")

	obj, err := store.GetObject(ctx, bucketName, "runs/xyz/log.csv")
	require.NoError(t, err, "objects under other prefixes are untouched")
	obj.Close()
}
