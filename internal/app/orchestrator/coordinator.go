package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
)

// Coordinator fans snapshot work out across one worker per replica set and
// aggregates the results into a single summary. It implements
// repository.SnapshotExecutor.
type Coordinator struct {
	mode        domain.TopologyMode
	snapshotter repository.VolumeSnapshotter
	// balancer is available so workers could consult cluster state; the
	// stop/restore protocol itself is driven by the orchestrator. Nil for
	// replica-set runs.
	balancer repository.BalancerController
	cfg      config.SnapshotConfig
	program  string
	logger   logger.Logger

	mu     sync.Mutex
	closed bool
}

var _ repository.SnapshotExecutor = (*Coordinator)(nil)

// NewCoordinator creates a snapshot coordinator.
func NewCoordinator(
	mode domain.TopologyMode,
	snapshotter repository.VolumeSnapshotter,
	balancer repository.BalancerController,
	cfg config.SnapshotConfig,
	program string,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		mode:        mode,
		snapshotter: snapshotter,
		balancer:    balancer,
		cfg:         cfg,
		program:     program,
		logger:      log,
	}
}

// Run snapshots every replica set concurrently. A failing replica set never
// cancels its siblings; its failure is recorded in the summary. Cancellation
// is cooperative: workers observe ctx at safe checkpoints and wind down.
func (c *Coordinator) Run(ctx context.Context, replicaSets map[string]*domain.ReplicaSet, timestamp time.Time) (*domain.Summary, error) {
	c.logger.Info("Starting snapshot coordinator", "replicaSets", len(replicaSets))

	summary := domain.NewSummary(c.mode, timestamp)

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, rs := range replicaSets {
		worker := NewWorker(rs, c.snapshotter, c.cfg, c.program, timestamp, c.logger)

		wg.Add(1)
		go func(name string, w *Worker) {
			defer wg.Done()
			result := w.Run(ctx)
			mu.Lock()
			summary.Results[name] = result
			mu.Unlock()
		}(name, worker)
	}

	wg.Wait()
	summary.CompletedAt = time.Now()

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if summary.Failed() {
		failed := 0
		for _, res := range summary.Results {
			if res.Status != domain.SnapshotStatusCompleted {
				failed++
			}
		}
		return summary, fmt.Errorf("snapshot failed for %d of %d replica sets", failed, len(replicaSets))
	}

	c.logger.Info("All replica set snapshots completed", "snapshots", summary.SnapshotCount())
	return summary, nil
}

// Close releases the coordinator. Idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
