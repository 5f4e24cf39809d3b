package archive

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver stores rendered export files outside the database
type Archiver interface {
	// Archive writes data under key and returns the object location
	Archive(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ObjectPutter is the part of the S3 client the archiver uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config selects the bucket exports are copied to. An empty Bucket disables archiving.
type Config struct {
	Bucket string
	Region string
	// Endpoint overrides the S3 endpoint, for MinIO or LocalStack
	Endpoint string
	Prefix   string
}
