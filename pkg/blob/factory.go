package blob

import (
	"context"
	"fmt"
)

// StoreType selects the blob storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// Config selects and configures the blob backend.
type Config struct {
	Type    StoreType
	DataDir string // fs backend
	S3      S3StoreConfig
	GCS     GCSConfig
}

// GCSConfig mirrors GCSStoreConfig without forcing the gcp build tag on
// config consumers.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// New creates the configured blob store.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case StoreTypeFS, "":
		dir := cfg.DataDir
		if dir == "" {
			dir = "data/blobs"
		}
		return NewFileStore(dir)
	case StoreTypeS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("blob: s3 bucket is required")
		}
		return NewS3Store(ctx, cfg.S3)
	case StoreTypeGCS:
		return newGCSStore(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("blob: unsupported storage type %q", cfg.Type)
	}
}
