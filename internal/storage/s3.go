package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"download-gateway/internal/config"
	"download-gateway/internal/observability"
)

// s3Gateway implements Gateway against an S3-compatible backend using
// metadata-only HeadObject lookups. The client connection pool is shared
// read-only across requests after construction.
type s3Gateway struct {
	client  *s3.Client
	cfg     config.StorageSettings
	logger  observability.Logger
	metrics *observability.Metrics
}

// NewS3Gateway builds the live gateway from validated storage settings.
func NewS3Gateway(ctx context.Context, cfg config.StorageSettings, logger observability.Logger, metrics *observability.Metrics) (Gateway, error) {
	awsCfg, err := buildAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	logger.Info("storage gateway connected", observability.Fields{
		"bucket":   cfg.Bucket,
		"region":   cfg.Region,
		"endpoint": cfg.Endpoint,
	})

	return &s3Gateway{
		client:  client,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// CheckHealth probes the well-known marker object. The marker being absent
// means the store answered, which is healthy; any other failure is not.
func (g *s3Gateway) CheckHealth(ctx context.Context) error {
	start := time.Now()

	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.cfg.Bucket),
		Key:    aws.String(healthMarkerKey),
	})

	if err != nil && !isNotFoundError(err) {
		g.metrics.RecordStorageOperation("health", "error", time.Since(start).Seconds())
		g.logger.Error("storage health probe failed", err, observability.Fields{
			"bucket": g.cfg.Bucket,
		})
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	g.metrics.RecordStorageOperation("health", "ok", time.Since(start).Seconds())
	return nil
}

// CheckAvailability performs a metadata-only existence lookup.
func (g *s3Gateway) CheckAvailability(ctx context.Context, fileID int64) (AvailabilityResult, error) {
	start := time.Now()
	key := ObjectKey(fileID)

	result := AvailabilityResult{FileID: fileID, StorageKey: key}

	head, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			g.metrics.RecordStorageOperation("availability", "ok", time.Since(start).Seconds())
			return result, nil
		}

		g.metrics.RecordStorageOperation("availability", "error", time.Since(start).Seconds())
		g.logger.Error("availability lookup failed", err, observability.Fields{
			"bucket": g.cfg.Bucket,
			"key":    key,
		})
		return AvailabilityResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result.Available = true
	result.Size = aws.ToInt64(head.ContentLength)

	g.metrics.RecordStorageOperation("availability", "ok", time.Since(start).Seconds())
	return result, nil
}

// ObjectURL renders a virtual-hosted URL for AWS proper, or an
// endpoint-relative path-style URL for custom backends.
func (g *s3Gateway) ObjectURL(key string) string {
	if g.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(g.cfg.Endpoint, "/"), g.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", g.cfg.Bucket, g.cfg.Region, key)
}

func (g *s3Gateway) Close() error { return nil }

// buildAWSConfig assembles the SDK configuration from storage settings.
func buildAWSConfig(ctx context.Context, cfg config.StorageSettings) (aws.Config, error) {
	optFns := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}

	// Use static credentials only when both halves are provided; otherwise
	// fall back to the default provider chain.
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	return awsconfig.LoadDefaultConfig(ctx, optFns...)
}

// isNotFoundError checks if an error is a not found error.
func isNotFoundError(err error) bool {
	var nsk *s3types.NoSuchKey
	var nse *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nse)
}
