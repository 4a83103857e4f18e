package destination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/withObsrvr/pypi-ingest/internal/config"
	"github.com/withObsrvr/pypi-ingest/internal/staging"
)

// AWSConfigLoader resolves AWS configuration for a shared-config profile;
// an empty profile selects the default chain.
type AWSConfigLoader func(ctx context.Context, profile string) (aws.Config, error)

// LoadAWSConfig is the default AWSConfigLoader.
func LoadAWSConfig(ctx context.Context, profile string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeStandard),
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// S3 exports the staged table as year/month partitioned Parquet under
// Path/<table>. Paths without the s3:// scheme are treated as a local
// directory, which needs no AWS credentials.
type S3 struct {
	Path    string
	Profile string
	Run     Run

	LoadConfig AWSConfigLoader
	Now        func() time.Time
}

func (d *S3) Name() string { return string(config.DestinationS3) }

func (d *S3) Check() error {
	if d.Path == "" {
		return errors.New("s3_path is required when the s3 destination is requested")
	}
	if d.remote() {
		if _, _, err := splitBucketURL(d.Path, "s3"); err != nil {
			return err
		}
	}
	return nil
}

func (d *S3) remote() bool {
	return strings.HasPrefix(d.Path, "s3://")
}

func (d *S3) Write(ctx context.Context, eng *staging.Engine, tbl *staging.Table) error {
	if err := d.Check(); err != nil {
		return err
	}
	logger := logrus.WithFields(logrus.Fields{
		"component":   "destination",
		"destination": d.Name(),
	})

	var store ObjectStore
	var prefix string
	if d.remote() {
		bucket, p, err := splitBucketURL(d.Path, "s3")
		if err != nil {
			return err
		}
		prefix = p
		if store, err = d.connect(ctx, eng, bucket); err != nil {
			return err
		}
	} else {
		local, err := NewLocalStore(d.Path)
		if err != nil {
			return err
		}
		store = local
	}
	defer store.Close()

	target := strings.TrimRight(d.Path, "/") + "/" + tbl.Name
	logger.Infof("Writing table %s to %s", tbl.Name, target)
	if err := copyPartitioned(ctx, eng, tbl, d.Run.TimestampColumn, target); err != nil {
		return err
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	key := joinKey(prefix, manifestKey(tbl.Name, d.Run))
	if err := writeManifest(ctx, store, key, newManifest(d.Run, tbl, target, now())); err != nil {
		return err
	}
	logger.WithField("manifest", key).Info("Wrote partitioned export")
	return nil
}

// connect resolves AWS credentials, verifies the bucket and installs the
// credentials as a DuckDB secret for the export.
func (d *S3) connect(ctx context.Context, eng *staging.Engine, bucket string) (ObjectStore, error) {
	load := d.LoadConfig
	if load == nil {
		load = LoadAWSConfig
	}
	cfg, err := load(ctx, d.Profile)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", bucket, err)
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve AWS credentials: %w", err)
	}
	if err := installS3Secret(ctx, eng, creds, cfg.Region); err != nil {
		return nil, err
	}
	return NewS3Store(client, bucket), nil
}

func installS3Secret(ctx context.Context, eng *staging.Engine, creds aws.Credentials, region string) error {
	if _, err := eng.Conn().ExecContext(ctx, "INSTALL httpfs; LOAD httpfs;"); err != nil {
		return fmt.Errorf("install httpfs: %w", err)
	}

	parts := []string{
		"TYPE S3",
		"KEY_ID " + staging.QuoteLiteral(creds.AccessKeyID),
		"SECRET " + staging.QuoteLiteral(creds.SecretAccessKey),
	}
	if creds.SessionToken != "" {
		parts = append(parts, "SESSION_TOKEN "+staging.QuoteLiteral(creds.SessionToken))
	}
	if region != "" {
		parts = append(parts, "REGION "+staging.QuoteLiteral(region))
	}
	stmt := fmt.Sprintf("CREATE OR REPLACE SECRET pypi_ingest_s3 (%s)", strings.Join(parts, ", "))
	if _, err := eng.Conn().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create s3 secret: %w", err)
	}
	return nil
}
