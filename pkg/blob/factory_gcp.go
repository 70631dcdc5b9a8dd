//go:build gcp

package blob

import (
	"context"
	"fmt"
)

func newGCSStore(ctx context.Context, cfg GCSConfig) (Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: gcs bucket is required")
	}
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
}
