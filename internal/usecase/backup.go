package usecase

import (
	"context"

	"github.com/jamielennox/aws-snapshot/internal/domain"
)

// BackupUseCase drives one complete backup run: lock, connect, detect
// topology, snapshot, clean up.
type BackupUseCase interface {
	// Run executes the backup and returns the aggregated summary. The
	// summary may be non-nil even when err is non-nil, for partial runs.
	Run(ctx context.Context) (*domain.Summary, error)
}
