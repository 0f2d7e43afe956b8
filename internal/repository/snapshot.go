package repository

import (
	"context"
	"time"

	"github.com/jamielennox/aws-snapshot/internal/domain"
)

// SnapshotExecutor performs per-replica-set snapshot work, potentially
// concurrently, and returns one aggregated summary. It observes context
// cancellation cooperatively.
type SnapshotExecutor interface {
	// Run snapshots every replica set in the map. Per-replica-set failures
	// are recorded in the summary; Run returns an error only when the run as
	// a whole failed or was cancelled.
	Run(ctx context.Context, replicaSets map[string]*domain.ReplicaSet, timestamp time.Time) (*domain.Summary, error)

	// Close releases executor resources. Idempotent.
	Close() error
}

// VolumeSnapshotter is the storage-layer snapshot surface consumed by the
// executor's workers.
type VolumeSnapshotter interface {
	// FindVolumes returns the data volumes backing the named replica set.
	FindVolumes(ctx context.Context, replicaSet string) ([]domain.Volume, error)

	// CreateSnapshot starts a snapshot of one volume and returns its ID.
	CreateSnapshot(ctx context.Context, volumeID, description string, tags map[string]string) (string, error)

	// WaitCompleted blocks until the given snapshots complete or ctx is
	// cancelled.
	WaitCompleted(ctx context.Context, snapshotIDs []string, timeout time.Duration) error
}
