package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/repository"
)

// LocalRepository implements StorageRepository for the local filesystem
type LocalRepository struct {
	basePath string
	prefix   string
}

// NewLocalRepository creates a local filesystem storage backend
func NewLocalRepository(cfg config.StorageConfig) (*LocalRepository, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalRepository{
		basePath: cfg.Path,
		prefix:   cfg.Prefix,
	}, nil
}

func (l *LocalRepository) Put(ctx context.Context, key string, data io.Reader, metadata *repository.ObjectMetadata) error {
	fullPath := filepath.Join(l.basePath, l.prefix, key)

	// Create parent directories
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	_, err = io.Copy(file, data)
	return err
}

func (l *LocalRepository) Get(ctx context.Context, key string) (io.ReadCloser, *repository.ObjectMetadata, error) {
	fullPath := filepath.Join(l.basePath, l.prefix, key)

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}

	metadata := &repository.ObjectMetadata{
		Key:  key,
		Size: info.Size(),
	}

	return file, metadata, nil
}

func (l *LocalRepository) List(ctx context.Context, prefix string) ([]*repository.ObjectInfo, error) {
	searchPath := filepath.Join(l.basePath, l.prefix, prefix)
	var objects []*repository.ObjectInfo

	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			relPath, err := filepath.Rel(filepath.Join(l.basePath, l.prefix), path)
			if err != nil {
				return err
			}
			objects = append(objects, &repository.ObjectInfo{
				Key:  relPath,
				Size: info.Size(),
			})
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}

	return objects, err
}

func (l *LocalRepository) Exists(ctx context.Context, key string) (bool, error) {
	fullPath := filepath.Join(l.basePath, l.prefix, key)
	_, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalRepository) Close() error {
	return nil
}

func (l *LocalRepository) HealthCheck(ctx context.Context) error {
	// Check if base directory is accessible
	_, err := os.Stat(l.basePath)
	return err
}
