// Package publish copies finished export artifacts to object storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/framecut/framecut-agent/internal/logging"
	"github.com/framecut/framecut-agent/internal/metrics"
)

// ErrDisabled is returned when no publishing target is configured.
var ErrDisabled = errors.New("publishing is not configured")

// Publisher uploads an artifact and returns where it landed.
type Publisher interface {
	Publish(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// NopPublisher is used when publishing is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	return "", ErrDisabled
}

// S3Config holds bucket and credential settings.
type S3Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
	Endpoint  string // optional, for S3-compatible stores; enables path-style addressing
}

// uploader is the part of manager.Uploader the publisher uses.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher uploads artifacts with the S3 multipart upload manager.
type S3Publisher struct {
	uploader uploader
	bucket   string
	prefix   string
	logger   *slog.Logger
}

// NewS3Publisher builds an S3 client from static credentials. When the keys
// are empty the SDK's anonymous credentials are used.
func NewS3Publisher(cfg S3Config, logger *slog.Logger) *S3Publisher {
	opts := s3.Options{Region: cfg.Region}
	if cfg.AccessKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
		opts.UsePathStyle = true
	}

	client := s3.New(opts)
	return newS3Publisher(manager.NewUploader(client), cfg, logger)
}

func newS3Publisher(u uploader, cfg S3Config, logger *slog.Logger) *S3Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Publisher{
		uploader: u,
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		logger:   logging.WithComponent(logger, "publish"),
	}
}

// ObjectKey joins the configured prefix and key.
func (p *S3Publisher) ObjectKey(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *S3Publisher) Publish(ctx context.Context, key, contentType string, r io.Reader) (string, error) {
	objectKey := p.ObjectKey(key)

	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectKey),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	metrics.PublishTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("failed to upload object %s to bucket %s: %w", objectKey, p.bucket, err)
	}

	location := out.Location
	if location == "" {
		location = fmt.Sprintf("s3://%s/%s", p.bucket, objectKey)
	}
	p.logger.Info("artifact published", "bucket", p.bucket, "key", objectKey)
	return location, nil
}
