package storage

import (
	"context"
	"fmt"
	"io"
)

// Storage is the object store behind report images.
type Storage interface {
	// Put stores an object under key.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// GetURL returns the public URL for key.
	GetURL(key string) string
}

// Config selects and configures a storage backend.
type Config struct {
	Driver string // s3 or local

	S3Endpoint  string // empty for AWS, set for R2/MinIO
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PublicURL string

	LocalPath string
	LocalURL  string
}

// New builds the backend named by cfg.Driver.
func New(cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Storage(cfg)
	case "local", "":
		return NewLocalStorage(cfg.LocalPath, cfg.LocalURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
