package blob

import (
	"context"
	"fmt"

	"ptxmeta/internal/infra/blob/fs"
	"ptxmeta/internal/infra/blob/gcs"
	"ptxmeta/internal/infra/blob/memory"
	"ptxmeta/internal/infra/blob/s3"
)

// S3Config configures the S3 driver.
type S3Config = s3.Config

// GCSConfig configures the Cloud Storage driver.
type GCSConfig = gcs.Config

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
	GCS    GCSConfig
}

// Open constructs the configured backend. The filesystem driver is the default.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverGCS:
		return gcs.New(ctx, cfg.GCS)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memory.New() }

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return s3.New(ctx, cfg)
}

// NewGCS constructs a Cloud Storage backed Store.
func NewGCS(ctx context.Context, cfg GCSConfig) (Store, error) {
	return gcs.New(ctx, cfg)
}
