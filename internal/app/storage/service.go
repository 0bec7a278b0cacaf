/*
Package storage keeps chat images in an S3-compatible bucket. Clients upload through a
presigned PUT URL (or through the server for small images) and messages reference the
object by its key; readers fetch it from the public asset base.
*/
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"relaychat/internal/configs"
)

// ErrObjectNotFound is returned when the key does not name an object in the bucket.
var ErrObjectNotFound = errors.New("storage: object not found")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	BucketName      string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	// PublicBaseURL serves objects to readers; defaults to <endpoint>/<bucket>.
	PublicBaseURL string
}

// ConfigFrom extracts the storage settings from the application config.
func ConfigFrom(cfg *configs.AppConfig) ServiceConfig {
	return ServiceConfig{
		BucketName:      cfg.S3BucketName,
		Endpoint:        cfg.S3Endpoint,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PublicBaseURL:   cfg.S3PublicBaseURL,
	}
}

// ObjectInfo is what the bucket reports about a stored object.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// Service defines the public interface for the file storage service.
type Service interface {
	// PresignUpload generates a pre-signed PUT URL bound to the key, MIME type and size.
	PresignUpload(ctx context.Context, key, mimeType string, fileSize int64, duration time.Duration) (string, error)

	// Upload streams body to the bucket under key.
	Upload(ctx context.Context, key, mimeType string, body io.Reader) error

	// Stat reports the object's type and size, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Delete removes the file specified by the given key.
	Delete(ctx context.Context, key string) error

	// PublicURL is where readers fetch the object.
	PublicURL(key string) string
}

// NewService returns the S3 implementation.
func NewService(ctx context.Context, cfg ServiceConfig) (Service, error) {
	return newS3Client(ctx, cfg)
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}
