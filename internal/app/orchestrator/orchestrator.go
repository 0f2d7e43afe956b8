package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	"github.com/jamielennox/aws-snapshot/internal/usecase"
	apperrors "github.com/jamielennox/aws-snapshot/pkg/errors"
	"github.com/jamielennox/aws-snapshot/pkg/lock"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
	"github.com/jamielennox/aws-snapshot/pkg/metrics"
	"github.com/jamielennox/aws-snapshot/pkg/timer"
)

// ProgramName is used for the run timer, snapshot tags, and log file names.
const ProgramName = "aws-snapshot"

// cleanupTimeout bounds compensating actions that must run after the run
// context has been cancelled.
const cleanupTimeout = time.Minute

// Lock is the single-instance process lock.
type Lock interface {
	Acquire() error
	Release() error
}

// ManifestWriter persists the run summary after the snapshot phase.
type ManifestWriter interface {
	Write(ctx context.Context, summary *domain.Summary, duration time.Duration) error
}

// Deps bundles the orchestrator's collaborators. Constructors are injected
// so each phase can be exercised against fakes.
type Deps struct {
	Lock    Lock
	Timers  *timer.Registry
	Connect func(ctx context.Context) (repository.Connection, error)

	NewResolver func(conn repository.Connection) repository.ReplicaSetResolver
	NewBalancer func(conn repository.Connection) repository.BalancerController
	NewExecutor func(mode domain.TopologyMode, balancer repository.BalancerController) (repository.SnapshotExecutor, error)

	// Storage and Manifest are reporting collaborators; both optional.
	Storage  repository.StorageRepository
	Manifest ManifestWriter
}

// Orchestrator owns the lock, the timer, the cancellation signal, and the
// control flow of one backup run. Its own flow is single-threaded; only the
// snapshot executor fans out internally.
type Orchestrator struct {
	cfg    *config.Config
	deps   Deps
	logger logger.Logger

	run    *domain.BackupRun
	cancel context.CancelFunc

	conn     repository.Connection
	resolver repository.ReplicaSetResolver
	balancer repository.BalancerController
	executor repository.SnapshotExecutor

	lockAcquired     bool
	timerStarted     bool
	balancerStopped  bool
	restoreAttempted bool
}

var _ usecase.BackupUseCase = (*Orchestrator)(nil)

// New creates an orchestrator for one run.
func New(cfg *config.Config, deps Deps, log logger.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: log,
		run:    domain.NewBackupRun(ProgramName),
	}
}

// Run executes the backup. Every exit path, including cancellation and
// unclassified failure, passes through the same cleanup funnel before Run
// returns.
func (o *Orchestrator) Run(ctx context.Context) (*domain.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	err := o.execute(runCtx)
	o.finish(err)

	mode := "unknown"
	if o.run.Mode != "" {
		mode = string(o.run.Mode)
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.RunsTotal.WithLabelValues(mode, status).Inc()

	return o.run.Summary, err
}

// execute walks the state machine up to the per-mode path. It returns a
// classified error; it never cleans up, that is the funnel's job.
func (o *Orchestrator) execute(ctx context.Context) error {
	// The lock comes first: nothing external happens without it.
	if err := o.deps.Lock.Acquire(); err != nil {
		if apperrors.Is(err, lock.ErrAlreadyLocked) {
			return apperrors.Operational("acquire lock", "another backup run is already in progress", err)
		}
		return apperrors.Operational("acquire lock", "failed to acquire run lock", err)
	}
	o.lockAcquired = true
	o.run.Phase = domain.PhaseLocked
	o.logger.Info("Run lock acquired")

	// Manifest storage only affects reporting; its failure is surfaced but
	// never aborts the run.
	if o.deps.Storage != nil {
		if err := o.deps.Storage.HealthCheck(ctx); err != nil {
			o.notify(apperrors.Notify("storage health check", "manifest storage unavailable", err))
		}
	}

	conn, err := o.deps.Connect(ctx)
	if err != nil {
		return apperrors.Operational("connect", "failed to connect to MongoDB", err)
	}
	o.conn = conn
	o.run.Phase = domain.PhaseConnected
	o.logger.Info("Connected", "host", o.cfg.Mongo.Host, "port", o.cfg.Mongo.Port)

	o.deps.Timers.Start(o.run.ProgramName)
	o.timerStarted = true

	mode, err := o.detectMode(ctx)
	if err != nil {
		return err
	}
	o.run.SetMode(mode)
	o.logger.Info("Topology detected", "mode", mode)

	o.resolver = o.deps.NewResolver(conn)

	var pathErr error
	switch mode {
	case domain.TopologyReplicaSet:
		o.run.Phase = domain.PhaseReplicaSetRun
		pathErr = o.runReplicaSet(ctx)
	case domain.TopologySharded:
		o.run.Phase = domain.PhaseShardedRun
		pathErr = o.runSharded(ctx)
	}
	if pathErr != nil {
		return pathErr
	}

	if err := ctx.Err(); err != nil {
		return apperrors.Operational("run", "backup interrupted", err)
	}
	return nil
}

// detectMode queries the router, config-server, and replica-set roles in
// that order.
func (o *Orchestrator) detectMode(ctx context.Context) (domain.TopologyMode, error) {
	isRouter, err := o.conn.IsRouter(ctx)
	if err != nil {
		return "", apperrors.Operational("detect topology", "router role query failed", err)
	}
	if isRouter {
		return domain.TopologySharded, nil
	}

	isConfig, err := o.conn.IsConfigServer(ctx)
	if err != nil {
		return "", apperrors.Operational("detect topology", "config server role query failed", err)
	}
	if isConfig {
		return domain.TopologySharded, nil
	}

	isReplSet, err := o.conn.IsReplicaSet(ctx)
	if err != nil {
		return "", apperrors.Operational("detect topology", "replica set role query failed", err)
	}
	if isReplSet {
		return domain.TopologyReplicaSet, nil
	}

	return "", apperrors.Operationalf("detect topology",
		"host %s:%d is neither part of a replica set nor a sharding router or config node",
		o.cfg.Mongo.Host, o.cfg.Mongo.Port)
}

func (o *Orchestrator) runReplicaSet(ctx context.Context) error {
	name, rs, err := o.resolver.ResolveSingle(ctx)
	if err != nil {
		return apperrors.Operational("resolve replica set", "failed to resolve local replica set", err)
	}
	o.logger.Info("Resolved replica set", "name", name)

	executor, err := o.deps.NewExecutor(domain.TopologyReplicaSet, nil)
	if err != nil {
		return apperrors.Operational("create executor", "failed to create snapshot executor", err)
	}
	o.executor = executor

	summary, execErr := executor.Run(ctx, map[string]*domain.ReplicaSet{name: rs}, o.run.BackupTimestamp)
	o.run.Summary = summary
	if execErr != nil {
		return o.classifyExecError(ctx, execErr)
	}
	return nil
}

func (o *Orchestrator) runSharded(ctx context.Context) error {
	balancer := o.deps.NewBalancer(o.conn)
	o.balancer = balancer

	// The capture happens before any stop call and is the only source of
	// truth for restoration.
	originalEnabled, err := balancer.CaptureStartState(ctx)
	if err != nil {
		return apperrors.Operational("capture balancer state", "failed to read balancer state", err)
	}

	replicaSets, err := o.resolver.ResolveSharded(ctx)
	if err != nil {
		return apperrors.Operational("resolve shards", "failed to resolve sharded topology", err)
	}
	o.logger.Info("Resolved sharded topology", "replicaSets", len(replicaSets))

	executor, err := o.deps.NewExecutor(domain.TopologySharded, balancer)
	if err != nil {
		return apperrors.Operational("create executor", "failed to create snapshot executor", err)
	}
	o.executor = executor

	if err := balancer.StopBalancer(ctx); err != nil {
		return apperrors.Operational("stop balancer", "failed to stop cluster balancer", err)
	}
	o.balancerStopped = true
	o.run.BalancerOriginalState = &originalEnabled

	summary, execErr := executor.Run(ctx, replicaSets, o.run.BackupTimestamp)
	o.run.Summary = summary

	// Compensating action: the balancer is restored no matter how the
	// executor finished. The funnel re-checks this, but the normal ordering
	// is restore immediately after the executor returns.
	restoreErr := o.restoreBalancer()

	if execErr != nil {
		// The snapshot failure wins the returned error. The restore attempt
		// is already consumed, so a failure here is surfaced now: the
		// balancer may still be stopped cluster-wide.
		if restoreErr != nil {
			o.logger.Error("Failed to restore balancer state", "error", restoreErr)
		}
		return o.classifyExecError(ctx, execErr)
	}
	if restoreErr != nil {
		return apperrors.Operational("restore balancer", "failed to restore balancer state", restoreErr)
	}
	return nil
}

// restoreBalancer performs the one restore attempt that consumes the
// captured balancer state. It runs on a detached context because the run
// context may already be cancelled.
func (o *Orchestrator) restoreBalancer() error {
	if !o.balancerStopped || o.restoreAttempted {
		return nil
	}
	o.restoreAttempted = true

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	return o.balancer.RestoreBalancerState(ctx)
}

func (o *Orchestrator) classifyExecError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return apperrors.Operational("snapshot execution", "backup interrupted", err)
	}
	return apperrors.Operational("snapshot execution", "snapshot run failed", err)
}

// notify logs a Notify-class condition without aborting the run.
func (o *Orchestrator) notify(err error) {
	o.run.LastError = err
	o.logger.Error("Notify condition", "step", apperrors.StepOf(err), "error", err)
}

// finish is the single funnel every exit path passes through: it classifies
// the failure, sets the cancellation signal on fatal paths, and runs the
// guarded cleanup sequence. It never fails.
func (o *Orchestrator) finish(err error) {
	if err != nil {
		o.run.LastError = err
		o.run.Phase = domain.PhaseAborted

		switch apperrors.KindOf(err) {
		case apperrors.KindNotify:
			o.logger.Error("Notify condition", "step", apperrors.StepOf(err), "error", err)
		case apperrors.KindOperation:
			o.logger.Error("Backup run failed", "step", apperrors.StepOf(err), "error", err)
		default:
			o.logger.Error("Backup run failed unexpectedly",
				"step", apperrors.StepOf(err),
				"error", err,
				"detail", fmt.Sprintf("%+v", err))
		}

		// Fatal paths set the cancellation signal before cleanup so executor
		// workers wind down.
		o.cancel()
	} else {
		o.run.Phase = domain.PhaseCleanup
	}

	o.cleanup()

	if err == nil {
		o.run.Phase = domain.PhaseDone
	}
}

// cleanup runs the guarded teardown sequence. Each action tolerates already
// closed or never-constructed resources, so the sequence is idempotent; a
// failing action is logged and never blocks the rest. The lock is released
// last, unconditionally, if it was ever acquired.
func (o *Orchestrator) cleanup() {
	if o.resolver != nil {
		o.guard("close resolver", o.resolver.Close)
	}

	if o.balancer != nil {
		o.guard("restore balancer", o.restoreBalancer)
		o.guard("close balancer", o.balancer.Close)
	}

	if o.executor != nil {
		o.guard("close executor", o.executor.Close)
	}

	if o.cancel != nil {
		o.cancel()
	}

	if o.conn != nil {
		o.guard("close connection", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			return o.conn.Close(ctx)
		})
	}

	var duration time.Duration
	if o.timerStarted {
		o.guard("stop timer", func() error {
			if err := o.deps.Timers.Stop(o.run.ProgramName); err != nil {
				return err
			}
			var err error
			duration, err = o.deps.Timers.Duration(o.run.ProgramName)
			return err
		})
		o.logger.Info("Run finished", "mode", o.run.Mode, "duration", duration.String())
		metrics.RunDuration.WithLabelValues(string(o.run.Mode)).Observe(duration.Seconds())
	}

	if o.run.Summary != nil && o.deps.Manifest != nil {
		o.guard("write manifest", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
			defer cancel()
			return o.deps.Manifest.Write(ctx, o.run.Summary, duration)
		})
	}

	if o.lockAcquired {
		o.guard("release lock", o.deps.Lock.Release)
	}
}

func (o *Orchestrator) guard(step string, fn func() error) {
	if err := fn(); err != nil {
		o.logger.Error("Cleanup step failed", "step", step, "error", err)
	}
}

// RunState exposes the run for inspection after Run returns.
func (o *Orchestrator) RunState() *domain.BackupRun {
	return o.run
}
