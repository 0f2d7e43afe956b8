package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
	"github.com/jamielennox/aws-snapshot/pkg/metrics"
)

// Worker snapshots the volumes of one replica set.
type Worker struct {
	replicaSet  *domain.ReplicaSet
	snapshotter repository.VolumeSnapshotter
	cfg         config.SnapshotConfig
	program     string
	timestamp   time.Time
	logger      logger.Logger
}

// NewWorker creates a worker for one replica set.
func NewWorker(
	rs *domain.ReplicaSet,
	snapshotter repository.VolumeSnapshotter,
	cfg config.SnapshotConfig,
	program string,
	timestamp time.Time,
	log logger.Logger,
) *Worker {
	return &Worker{
		replicaSet:  rs,
		snapshotter: snapshotter,
		cfg:         cfg,
		program:     program,
		timestamp:   timestamp,
		logger:      log.WithFields(map[string]interface{}{"replicaSet": rs.Name}),
	}
}

// Run snapshots every volume of the replica set. Failures are recorded in
// the result rather than returned, so sibling workers keep running.
func (w *Worker) Run(ctx context.Context) *domain.SnapshotResult {
	start := time.Now()
	result := &domain.SnapshotResult{ReplicaSet: w.replicaSet.Name}
	defer func() {
		result.Duration = time.Since(start)
		metrics.SnapshotDuration.WithLabelValues(w.replicaSet.Name).Observe(result.Duration.Seconds())
	}()

	w.logger.Info("Starting replica set snapshot", "hosts", len(w.replicaSet.Hosts), "configServer", w.replicaSet.ConfigServer)

	volumes, err := w.snapshotter.FindVolumes(ctx, w.replicaSet.Name)
	if err != nil {
		return w.fail(result, fmt.Errorf("failed to find volumes: %w", err))
	}
	if len(volumes) == 0 {
		return w.fail(result, fmt.Errorf("no in-use volumes tagged %s=%s", w.cfg.VolumeTagKey, w.replicaSet.Name))
	}

	for _, vol := range volumes {
		select {
		case <-ctx.Done():
			return w.cancelled(result, ctx.Err())
		default:
		}

		snapshotID, err := w.snapshotter.CreateSnapshot(ctx, vol.ID, w.description(vol), w.tags(vol))
		if err != nil {
			metrics.SnapshotsCreated.WithLabelValues(w.replicaSet.Name, "error").Inc()
			if ctx.Err() != nil {
				return w.cancelled(result, ctx.Err())
			}
			return w.fail(result, err)
		}

		result.VolumeIDs = append(result.VolumeIDs, vol.ID)
		result.SnapshotIDs = append(result.SnapshotIDs, snapshotID)
		metrics.SnapshotsCreated.WithLabelValues(w.replicaSet.Name, "success").Inc()
	}

	if w.cfg.WaitForCompletion {
		w.logger.Info("Waiting for snapshots to complete", "snapshots", len(result.SnapshotIDs))
		if err := w.snapshotter.WaitCompleted(ctx, result.SnapshotIDs, w.cfg.WaitTimeout); err != nil {
			if ctx.Err() != nil {
				return w.cancelled(result, ctx.Err())
			}
			return w.fail(result, err)
		}
	}

	result.Status = domain.SnapshotStatusCompleted
	w.logger.Info("Replica set snapshot completed", "snapshots", len(result.SnapshotIDs))
	return result
}

func (w *Worker) fail(result *domain.SnapshotResult, err error) *domain.SnapshotResult {
	result.Status = domain.SnapshotStatusFailed
	result.Error = err.Error()
	w.logger.Error("Replica set snapshot failed", "error", err)
	return result
}

func (w *Worker) cancelled(result *domain.SnapshotResult, err error) *domain.SnapshotResult {
	result.Status = domain.SnapshotStatusCancelled
	result.Error = err.Error()
	w.logger.Warn("Replica set snapshot cancelled")
	return result
}

func (w *Worker) description(vol domain.Volume) string {
	return fmt.Sprintf("%s backup of %s (%s on %s) at %s",
		w.program, w.replicaSet.Name, vol.ID, vol.InstanceID, w.timestamp.Format(time.RFC3339))
}

func (w *Worker) tags(vol domain.Volume) map[string]string {
	return map[string]string{
		"created-by":       w.program,
		w.cfg.VolumeTagKey: w.replicaSet.Name,
		"backup-timestamp": w.timestamp.Format(time.RFC3339),
		"source-volume":    vol.ID,
		"source-instance":  vol.InstanceID,
	}
}
