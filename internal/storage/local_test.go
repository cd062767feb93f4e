package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func TestLocalObjectStore_PutObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	key := "runs/abc/model.json"
	content := []byte("Test content")

	err := objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content))
	require.NoError(t, err)

	filePath := filepath.Join(baseDir, bucket, key)
	data, err := os.ReadFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_GetObject(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	bucket := "test-bucket"
	key := "runs/abc/log.csv"
	content := []byte("epoch,train_loss,val_loss\n")

	require.NoError(t, objectStore.PutObject(context.Background(), bucket, key, bytes.NewReader(content)))

	reader, err := objectStore.GetObject(context.Background(), bucket, key)
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestLocalObjectStore_GetObject_Missing(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)

	_, err := objectStore.GetObject(context.Background(), "test-bucket", "missing.csv")
	assert.Error(t, err)
}

func TestLocalObjectStore_CreateBucket(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	err := objectStore.CreateBucket(context.Background(), bucket)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(baseDir, bucket))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalObjectStore_DeleteObjects(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "runs/run-1"

	// Create some test files
	files := []string{"runs/run-1/log.csv", "runs/run-1/model.json", "runs/run-2/log.csv"}
	for _, file := range files {
		filePath := filepath.Join(baseDir, bucket, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content"), os.ModePerm))
	}

	err := objectStore.DeleteObjects(context.Background(), bucket, prefix)
	require.NoError(t, err)

	// Verify files in the prefix were deleted
	for _, file := range []string{"runs/run-1/log.csv", "runs/run-1/model.json"} {
		filePath := filepath.Join(baseDir, bucket, file)
		_, err := os.Stat(filePath)
		assert.True(t, os.IsNotExist(err), "File %s should not exist", file)
	}

	// Verify files outside the prefix still exist
	otherFilePath := filepath.Join(baseDir, bucket, "runs/run-2/log.csv")
	_, err = os.Stat(otherFilePath)
	assert.NoError(t, err, "File outside prefix should still exist")
}

func TestLocalObjectStore_UploadDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "uploaded"
	srcDir := t.TempDir()

	// Create test files in the source directory
	files := []string{"log.csv", "predictions.csv", "subdir/model.json"}
	for _, file := range files {
		filePath := filepath.Join(srcDir, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content"), os.ModePerm))
	}

	err := objectStore.UploadDir(context.Background(), bucket, prefix, srcDir)
	require.NoError(t, err)

	// Verify files were uploaded by checking content
	for _, file := range files {
		uploadedPath := filepath.Join(baseDir, bucket, prefix, file)
		data, err := os.ReadFile(uploadedPath)
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	}
}

func TestLocalObjectStore_DownloadDir(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "to-download"
	destDir := filepath.Join(t.TempDir(), "download-target")

	// Create test files in the object store
	files := []string{"log.csv", "predictions.csv", "subdir/model.json"}
	for _, file := range files {
		filePath := filepath.Join(baseDir, bucket, prefix, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("content"), os.ModePerm))
	}

	err := objectStore.DownloadDir(context.Background(), bucket, prefix, destDir, false)
	require.NoError(t, err)

	// Verify files were downloaded by checking content
	for _, file := range files {
		downloadedPath := filepath.Join(destDir, file)
		data, err := os.ReadFile(downloadedPath)
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	}
}

func TestLocalObjectStore_DownloadDir_Overwrite(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	bucket := "test-bucket"
	prefix := "to-download"
	destDir := t.TempDir()

	destFile := filepath.Join(destDir, "log.csv")
	require.NoError(t, os.WriteFile(destFile, []byte("original"), os.ModePerm))

	// Create test files in the object store
	files := []string{"log.csv", "model.json"}
	for _, file := range files {
		filePath := filepath.Join(baseDir, bucket, prefix, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), os.ModePerm))
		require.NoError(t, os.WriteFile(filePath, []byte("new"), os.ModePerm))
	}

	// Try without overwrite first
	err := objectStore.DownloadDir(context.Background(), bucket, prefix, destDir, false)
	require.Error(t, err)
	data, err := os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "File should not be overwritten when overwrite=false")

	// Now try with overwrite
	err = objectStore.DownloadDir(context.Background(), bucket, prefix, destDir, true)
	require.NoError(t, err)
	data, err = os.ReadFile(destFile)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data), "File should be overwritten when overwrite=true")
}
