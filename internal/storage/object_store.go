package storage

import (
	"context"
	"io"
)

// ObjectStore persists run artifacts: training logs, prediction tables and
// model checkpoints. The local implementation backs the single-process
// binary; the S3 implementation backs deployments.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	DeleteObjects(ctx context.Context, bucket, prefix string) error

	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error

	UploadDir(ctx context.Context, bucket, prefix, src string) error
}

// Object is one stored artifact entry.
type Object struct {
	Name string
	Size int64
}
