package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/davidleathers/workforce-analytics-backend/internal/domain/errors"
)

// S3Archiver copies export documents into an S3 bucket
type S3Archiver struct {
	client ObjectPutter
	config Config
	logger *zap.Logger
}

// NewS3Archiver loads the default AWS credential chain and builds an S3 client for cfg
func NewS3Archiver(ctx context.Context, cfg Config, logger *zap.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewValidationError("INVALID_CONFIG", "archive bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.NewInternalError("failed to load AWS config").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3ArchiverWithClient(client, cfg, logger), nil
}

// NewS3ArchiverWithClient builds an archiver over an existing client
func NewS3ArchiverWithClient(client ObjectPutter, cfg Config, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{client: client, config: cfg, logger: logger}
}

// Archive uploads data and returns its s3:// location
func (a *S3Archiver) Archive(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if key == "" {
		return "", errors.NewValidationError("EMPTY_KEY", "archive key is required")
	}

	objectKey := a.objectKey(key)
	sum := sha256.Sum256(data)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.Bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"sha256": hex.EncodeToString(sum[:]),
		},
	})
	if err != nil {
		a.logger.Error("archive upload failed",
			zap.String("bucket", a.config.Bucket),
			zap.String("key", objectKey),
			zap.Error(err))
		return "", errors.NewExternalError("s3", "upload failed").WithCause(err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.config.Bucket, objectKey)
	a.logger.Info("export archived",
		zap.String("location", location),
		zap.Int("bytes", len(data)))

	return location, nil
}

func (a *S3Archiver) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if a.config.Prefix == "" {
		return key
	}
	return path.Join(strings.Trim(a.config.Prefix, "/"), key)
}
