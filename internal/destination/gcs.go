package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
	"google.golang.org/api/option"
)

// StoreOpener opens an object store for a bucket.
type StoreOpener func(ctx context.Context, bucket string) (ObjectStore, error)

// GCSOpener opens buckets with a service account key, or with Application
// Default Credentials when credentialsPath is empty.
func GCSOpener(credentialsPath string) StoreOpener {
	return func(ctx context.Context, bucket string) (ObjectStore, error) {
		var opts []option.ClientOption
		if credentialsPath != "" {
			opts = append(opts, option.WithCredentialsFile(credentialsPath))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		store, err := NewGCSStore(ctx, client, bucket)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	}
}

// GCS exports the same partitioned layout as S3 into a temporary directory and
// uploads every file under gs://bucket/prefix/<table>.
type GCS struct {
	Path string
	Run  Run

	Open StoreOpener
	Now  func() time.Time
}

func (d *GCS) Name() string { return string(config.DestinationGCS) }

func (d *GCS) Check() error {
	if d.Path == "" {
		return errors.New("gcs_path is required when the gcs destination is requested")
	}
	_, _, err := splitBucketURL(d.Path, "gs")
	return err
}

func (d *GCS) Write(ctx context.Context, eng *staging.Engine, tbl *staging.Table) error {
	bucket, prefix, err := splitBucketURL(d.Path, "gs")
	if err != nil {
		return err
	}
	if d.Open == nil {
		return errors.New("no GCS store configured")
	}
	store, err := d.Open(ctx, bucket)
	if err != nil {
		return err
	}
	defer store.Close()

	tmp, err := os.MkdirTemp("", "pypi-ingest-gcs-")
	if err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	exportDir := filepath.Join(tmp, tbl.Name)
	if err := copyPartitioned(ctx, eng, tbl, d.Run.TimestampColumn, exportDir); err != nil {
		return err
	}

	var uploaded []string
	err = filepath.WalkDir(exportDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(tmp, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read export file: %w", err)
		}
		key := joinKey(prefix, filepath.ToSlash(rel))
		if err := store.Write(ctx, key, data); err != nil {
			return err
		}
		uploaded = append(uploaded, key)
		return nil
	})
	if err != nil {
		return err
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	m := newManifest(d.Run, tbl, d.Path+"/"+tbl.Name, now())
	m.Files = uploaded
	key := joinKey(prefix, manifestKey(tbl.Name, d.Run))
	if err := writeManifest(ctx, store, key, m); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"component":   "destination",
		"destination": d.Name(),
		"bucket":      bucket,
		"files":       len(uploaded),
	}).Info("Uploaded partitioned export")
	return nil
}
