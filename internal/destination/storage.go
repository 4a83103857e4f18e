package destination

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// ObjectStore writes whole objects under a key.
type ObjectStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Close() error
}

var objectMetadata = map[string]string{
	"generator": "pypi-ingest",
}

// splitBucketURL splits scheme://bucket/prefix into bucket and prefix.
func splitBucketURL(raw, scheme string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid %s url %q: %w", scheme, raw, err)
	}
	if u.Scheme != scheme || u.Host == "" {
		return "", "", fmt.Errorf("invalid %s url %q: expected %s://bucket/prefix", scheme, raw, scheme)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

func joinKey(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// LocalStore writes objects as files below a base directory.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates basePath if needed.
func NewLocalStore(basePath string) (*LocalStore, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStore{basePath: absPath}, nil
}

// Write stores data atomically at basePath/key.
func (c *LocalStore) Write(ctx context.Context, key string, data []byte) error {
	cleanKey := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleanKey) {
		return fmt.Errorf("absolute paths not allowed in key: %s", key)
	}
	fullPath := filepath.Join(c.basePath, cleanKey)
	rel, err := filepath.Rel(c.basePath, fullPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("invalid key path: %s", key)
	}
	return writeAtomic(fullPath, data)
}

func (c *LocalStore) Close() error { return nil }

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}
	return nil
}

// GCSStore writes objects to one Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore wraps client and checks that bucket is reachable.
func NewGCSStore(ctx context.Context, client *storage.Client, bucket string) (*GCSStore, error) {
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (c *GCSStore) Write(ctx context.Context, key string, data []byte) error {
	w := c.client.Bucket(c.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType(key)
	w.Metadata = objectMetadata

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write to GCS object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", key, err)
	}
	return nil
}

func (c *GCSStore) Close() error {
	return c.client.Close()
}

// S3Store writes objects to one S3 bucket through the multipart uploader.
type S3Store struct {
	uploader *manager.Uploader
	bucket   string
}

// NewS3Store wraps client for bucket.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 3
	})
	return &S3Store{uploader: uploader, bucket: bucket}
}

func (c *S3Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(c.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType(key)),
		Metadata:     objectMetadata,
		StorageClass: types.StorageClassStandard,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3 %s/%s: %w", c.bucket, key, err)
	}
	logrus.WithFields(logrus.Fields{
		"component": "destination",
		"bucket":    c.bucket,
		"key":       key,
		"bytes":     len(data),
	}).Debug("Uploaded object")
	return nil
}

func (c *S3Store) Close() error { return nil }

func contentType(key string) string {
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
