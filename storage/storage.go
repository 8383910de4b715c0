// Package storage persists screenshot images to a blob store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var (
	// ErrFileNotFound is returned when a requested object does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidPath is returned when a key is empty, absolute, or escapes
	// the store's root.
	ErrInvalidPath = errors.New("invalid path")
)

// BlobStorage stores and retrieves binary objects by key.
type BlobStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns a location the object can be fetched from: a file path
	// for local storage, a presigned URL for S3.
	GetURL(ctx context.Context, key string) (string, error)
}

// Storage types accepted by New.
const (
	TypeNone  = "none"
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Config selects and configures a BlobStorage.
type Config struct {
	Type          string
	BaseDir       string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	PresignExpiry time.Duration
}

// New builds the BlobStorage described by cfg. TypeNone and an empty type
// return a nil store and no error.
func New(ctx context.Context, cfg Config) (BlobStorage, error) {
	switch strings.ToLower(cfg.Type) {
	case "", TypeNone:
		return nil, nil

	case TypeLocal:
		if cfg.BaseDir == "" {
			return nil, fmt.Errorf("base_dir is required for local storage")
		}
		return NewLocalStorage(cfg.BaseDir)

	case TypeS3:
		s3Storage, err := NewS3Storage(ctx, S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			PresignExpiry: cfg.PresignExpiry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		return s3Storage, nil

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// cleanKey normalises key to a slash separated relative path and rejects
// anything that would leave the store root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: path cannot be empty", ErrInvalidPath)
	}
	key = strings.ReplaceAll(key, "\\", "/")
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: absolute paths not allowed", ErrInvalidPath)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: path traversal detected", ErrInvalidPath)
	}
	return cleaned, nil
}
