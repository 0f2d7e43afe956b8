package storage

import (
	"context"
	"fmt"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/repository"
)

var (
	_ repository.StorageRepository = (*LocalRepository)(nil)
	_ repository.StorageRepository = (*S3Repository)(nil)
)

// NewRepository creates a manifest storage backend based on configuration
func NewRepository(ctx context.Context, cfg config.StorageConfig) (repository.StorageRepository, error) {
	switch cfg.Type {
	case "s3":
		return NewS3Repository(ctx, cfg)
	case "local":
		return NewLocalRepository(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
