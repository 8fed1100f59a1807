package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"go.uber.org/zap"

	"github.com/abduss/dedupdrive/internal/config"
)

const (
	objectStoreTimeout = 5 * time.Second
	stagingRuleID      = "dedupdrive-expire-staging"
)

// NewMinIOClient establishes a MinIO client using the provided configuration.
func NewMinIOClient(cfg config.MinIOConfig) (*minio.Client, error) {
	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, ":") {
		// default to MinIO API port when not supplied explicitly
		endpoint = fmt.Sprintf("%s:9000", endpoint)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// PrepareBucket creates the content bucket when missing and installs a
// lifecycle rule expiring staging objects left behind by interrupted
// uploads. stagingPrefix must match the prefix the content store stages
// under.
func PrepareBucket(ctx context.Context, client *minio.Client, cfg config.MinIOConfig, stagingPrefix string, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, objectStoreTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
		logger.Info("bucket created", zap.String("bucket", cfg.Bucket))
	}

	if cfg.StagingExpiryDays <= 0 {
		return nil
	}
	if err := client.SetBucketLifecycle(ctx, cfg.Bucket, stagingLifecycle(stagingPrefix, cfg.StagingExpiryDays)); err != nil {
		// some S3-compatible backends lack lifecycle support; uploads work without it
		logger.Warn("set staging lifecycle", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return nil
}

func stagingLifecycle(prefix string, days int) *lifecycle.Configuration {
	lc := lifecycle.NewConfiguration()
	lc.Rules = []lifecycle.Rule{{
		ID:         stagingRuleID,
		Status:     "Enabled",
		RuleFilter: lifecycle.Filter{Prefix: prefix},
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	return lc
}
