package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	apperrors "github.com/jamielennox/aws-snapshot/pkg/errors"
	"github.com/jamielennox/aws-snapshot/pkg/lock"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
	"github.com/jamielennox/aws-snapshot/pkg/timer"
)

type fakeLock struct {
	mu         sync.Mutex
	held       bool
	acquires   int
	releases   int
	acquireErr error
}

func (l *fakeLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquires++
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.held = true
	return nil
}

func (l *fakeLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		l.releases++
		l.held = false
	}
	return nil
}

type fakeConnection struct {
	router     bool
	configSvr  bool
	replicaSet bool
	roleErr    error
	roleCalls  int
	closes     int
}

func (c *fakeConnection) IsRouter(ctx context.Context) (bool, error) {
	c.roleCalls++
	return c.router, c.roleErr
}

func (c *fakeConnection) IsConfigServer(ctx context.Context) (bool, error) {
	c.roleCalls++
	return c.configSvr, c.roleErr
}

func (c *fakeConnection) IsReplicaSet(ctx context.Context) (bool, error) {
	c.roleCalls++
	return c.replicaSet, c.roleErr
}

func (c *fakeConnection) Close(ctx context.Context) error {
	c.closes++
	return nil
}

type fakeResolver struct {
	single      *domain.ReplicaSet
	sharded     map[string]*domain.ReplicaSet
	resolveErr  error
	singleCalls int
	shardCalls  int
	closes      int
}

func (r *fakeResolver) ResolveSingle(ctx context.Context) (string, *domain.ReplicaSet, error) {
	r.singleCalls++
	if r.resolveErr != nil {
		return "", nil, r.resolveErr
	}
	return r.single.Name, r.single, nil
}

func (r *fakeResolver) ResolveSharded(ctx context.Context) (map[string]*domain.ReplicaSet, error) {
	r.shardCalls++
	if r.resolveErr != nil {
		return nil, r.resolveErr
	}
	return r.sharded, nil
}

func (r *fakeResolver) Close() error {
	r.closes++
	return nil
}

type fakeBalancer struct {
	enabled      bool
	captureErr   error
	stopErr      error
	restoreErr   error
	captures     int
	stops        int
	restores     int
	restoredWith []bool
	closes       int
	constructed  int
}

func (b *fakeBalancer) CaptureStartState(ctx context.Context) (bool, error) {
	b.captures++
	return b.enabled, b.captureErr
}

func (b *fakeBalancer) StopBalancer(ctx context.Context) error {
	b.stops++
	return b.stopErr
}

func (b *fakeBalancer) RestoreBalancerState(ctx context.Context) error {
	b.restores++
	b.restoredWith = append(b.restoredWith, b.enabled)
	return b.restoreErr
}

func (b *fakeBalancer) Close() error {
	b.closes++
	return nil
}

type fakeExecutor struct {
	runErr   error
	runs     int
	closes   int
	gotSets  map[string]*domain.ReplicaSet
	gotMode  domain.TopologyMode
	onRun    func(ctx context.Context)
	balancer repository.BalancerController
}

func (e *fakeExecutor) Run(ctx context.Context, replicaSets map[string]*domain.ReplicaSet, ts time.Time) (*domain.Summary, error) {
	e.runs++
	e.gotSets = replicaSets
	if e.onRun != nil {
		e.onRun(ctx)
	}

	summary := domain.NewSummary(e.gotMode, ts)
	for name := range replicaSets {
		status := domain.SnapshotStatusCompleted
		if e.runErr != nil {
			status = domain.SnapshotStatusFailed
		}
		if ctx.Err() != nil {
			status = domain.SnapshotStatusCancelled
		}
		summary.Results[name] = &domain.SnapshotResult{ReplicaSet: name, Status: status}
	}
	summary.CompletedAt = time.Now()

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, e.runErr
}

func (e *fakeExecutor) Close() error {
	e.closes++
	return nil
}

// captureLogger records every log line so tests can assert that a condition
// reached the operator.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) record(msg string, keysAndValues ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, fmt.Sprintln(append([]interface{}{msg}, keysAndValues...)...))
}

func (c *captureLogger) Debug(msg string, kv ...interface{}) { c.record(msg, kv...) }
func (c *captureLogger) Info(msg string, kv ...interface{})  { c.record(msg, kv...) }
func (c *captureLogger) Warn(msg string, kv ...interface{})  { c.record(msg, kv...) }
func (c *captureLogger) Error(msg string, kv ...interface{}) { c.record(msg, kv...) }
func (c *captureLogger) Fatal(msg string, kv ...interface{}) { c.record(msg, kv...) }

func (c *captureLogger) WithFields(map[string]interface{}) logger.Logger { return c }

func (c *captureLogger) contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range c.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

type testHarness struct {
	lock     *fakeLock
	conn     *fakeConnection
	resolver *fakeResolver
	balancer *fakeBalancer
	executor *fakeExecutor
	timers   *timer.Registry
	orch     *Orchestrator
}

func newHarness(conn *fakeConnection) *testHarness {
	h := &testHarness{
		lock: &fakeLock{},
		conn: conn,
		resolver: &fakeResolver{
			single: &domain.ReplicaSet{Name: "rs0", Hosts: []string{"db0:27017"}},
			sharded: map[string]*domain.ReplicaSet{
				"shard0": {Name: "shard0", Hosts: []string{"s0a:27017", "s0b:27017"}},
				"shard1": {Name: "shard1", Hosts: []string{"s1a:27017", "s1b:27017"}},
			},
		},
		balancer: &fakeBalancer{enabled: true},
		executor: &fakeExecutor{},
		timers:   timer.NewRegistry(),
	}

	cfg := config.DefaultConfig()
	cfg.Snapshot.Region = "us-east-1"

	deps := Deps{
		Lock:   h.lock,
		Timers: h.timers,
		Connect: func(ctx context.Context) (repository.Connection, error) {
			return h.conn, nil
		},
		NewResolver: func(repository.Connection) repository.ReplicaSetResolver {
			return h.resolver
		},
		NewBalancer: func(repository.Connection) repository.BalancerController {
			h.balancer.constructed++
			return h.balancer
		},
		NewExecutor: func(mode domain.TopologyMode, balancer repository.BalancerController) (repository.SnapshotExecutor, error) {
			h.executor.gotMode = mode
			h.executor.balancer = balancer
			return h.executor, nil
		},
	}

	h.orch = New(cfg, deps, logger.NewNop())
	return h
}

func TestRunReplicaSetPath(t *testing.T) {
	h := newHarness(&fakeConnection{replicaSet: true})

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 1, h.resolver.singleCalls)
	assert.Equal(t, 0, h.resolver.shardCalls)
	assert.Len(t, summary.Results, 1)
	assert.Contains(t, summary.Results, "rs0")
	assert.Equal(t, domain.TopologyReplicaSet, h.orch.RunState().Mode)
	assert.Equal(t, domain.PhaseDone, h.orch.RunState().Phase)

	// BalancerController is never constructed in replica-set mode.
	assert.Equal(t, 0, h.balancer.constructed)
	assert.Equal(t, 0, h.balancer.stops)

	// Lock acquired once and released exactly once, connection closed.
	assert.Equal(t, 1, h.lock.acquires)
	assert.Equal(t, 1, h.lock.releases)
	assert.Equal(t, 1, h.conn.closes)
	assert.Equal(t, 1, h.executor.closes)
	assert.Equal(t, 1, h.resolver.closes)
}

func TestRunShardedPath(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, domain.TopologySharded, h.orch.RunState().Mode)
	assert.Len(t, summary.Results, 2)
	assert.Equal(t, domain.TopologySharded, h.executor.gotMode)
	assert.Same(t, h.balancer, h.executor.balancer.(*fakeBalancer))

	// capture -> stop -> restore, each exactly once
	assert.Equal(t, 1, h.balancer.captures)
	assert.Equal(t, 1, h.balancer.stops)
	assert.Equal(t, 1, h.balancer.restores)
	assert.Equal(t, []bool{true}, h.balancer.restoredWith)
	assert.Equal(t, 1, h.balancer.closes)

	require.NotNil(t, h.orch.RunState().BalancerOriginalState)
	assert.True(t, *h.orch.RunState().BalancerOriginalState)

	assert.Equal(t, 1, h.lock.releases)
}

func TestRunShardedConfigServerDetection(t *testing.T) {
	h := newHarness(&fakeConnection{configSvr: true})

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TopologySharded, h.orch.RunState().Mode)
}

func TestRunShardedExecutorFailureStillRestoresBalancer(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.executor.runErr = errors.New("snapshot request rejected")

	summary, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOperation, apperrors.KindOf(err))
	assert.Equal(t, "snapshot execution", apperrors.StepOf(err))

	// Partial summary is still surfaced.
	require.NotNil(t, summary)

	// The compensating action ran exactly once with the captured state.
	assert.Equal(t, 1, h.balancer.stops)
	assert.Equal(t, 1, h.balancer.restores)
	assert.Equal(t, []bool{true}, h.balancer.restoredWith)

	// Full cleanup still happened; the lock no longer exists.
	assert.Equal(t, 1, h.lock.releases)
	assert.False(t, h.lock.held)
	assert.Equal(t, 1, h.conn.closes)
	assert.Equal(t, domain.PhaseAborted, h.orch.RunState().Phase)
}

func TestRunShardedStopFailureSkipsRestore(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.balancer.stopErr = errors.New("balancerStop timed out")

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "stop balancer", apperrors.StepOf(err))

	// The balancer was never successfully stopped, so nothing to restore
	// and no captured state recorded on the run.
	assert.Equal(t, 0, h.balancer.restores)
	assert.Nil(t, h.orch.RunState().BalancerOriginalState)
	assert.Equal(t, 0, h.executor.runs)

	// Close is still attempted and the lock released.
	assert.Equal(t, 1, h.balancer.closes)
	assert.Equal(t, 1, h.lock.releases)
}

func TestRunBalancerPreviouslyDisabled(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.balancer.enabled = false

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, h.balancer.restores)
	assert.Equal(t, []bool{false}, h.balancer.restoredWith)
	require.NotNil(t, h.orch.RunState().BalancerOriginalState)
	assert.False(t, *h.orch.RunState().BalancerOriginalState)
}

func TestRunUnsupportedTopology(t *testing.T) {
	h := newHarness(&fakeConnection{})

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOperation, apperrors.KindOf(err))
	assert.Equal(t, "detect topology", apperrors.StepOf(err))

	// No resolution or snapshot work happened.
	assert.Equal(t, 0, h.resolver.singleCalls)
	assert.Equal(t, 0, h.resolver.shardCalls)
	assert.Equal(t, 0, h.executor.runs)
	assert.Equal(t, 0, h.balancer.constructed)

	// The lock is still released.
	assert.Equal(t, 1, h.lock.releases)
}

func TestRunLockContention(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.lock.acquireErr = lock.ErrAlreadyLocked

	connects := 0
	h.orch.deps.Connect = func(ctx context.Context) (repository.Connection, error) {
		connects++
		return h.conn, nil
	}

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOperation, apperrors.KindOf(err))
	assert.Equal(t, "acquire lock", apperrors.StepOf(err))

	// Zero calls to any collaborator.
	assert.Equal(t, 0, connects)
	assert.Equal(t, 0, h.conn.roleCalls)
	assert.Equal(t, 0, h.resolver.singleCalls+h.resolver.shardCalls)
	assert.Equal(t, 0, h.balancer.constructed)
	assert.Equal(t, 0, h.executor.runs)
	assert.Equal(t, 0, h.lock.releases)
}

func TestRunConnectFailure(t *testing.T) {
	h := newHarness(&fakeConnection{})
	h.orch.deps.Connect = func(ctx context.Context) (repository.Connection, error) {
		return nil, errors.New("server selection timeout")
	}

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "connect", apperrors.StepOf(err))
	assert.Equal(t, 1, h.lock.releases)
}

func TestRunCancellationDuringExecutor(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var observedCancel bool
	h.executor.onRun = func(runCtx context.Context) {
		// Simulate a termination signal arriving mid-snapshot.
		cancel()
		<-runCtx.Done()
		observedCancel = true
	}

	summary, err := h.orch.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindOperation, apperrors.KindOf(err))
	assert.True(t, observedCancel, "executor must observe the cancellation signal")

	// Cancelled work is recorded, the balancer restored, the lock released.
	require.NotNil(t, summary)
	for _, res := range summary.Results {
		assert.Equal(t, domain.SnapshotStatusCancelled, res.Status)
	}
	assert.Equal(t, 1, h.balancer.restores)
	assert.Equal(t, 1, h.lock.releases)
	assert.False(t, h.lock.held)
}

func TestRunResolveShardedFailure(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.resolver.resolveErr = errors.New("config.shards unavailable")

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "resolve shards", apperrors.StepOf(err))

	// Resolution failed before any stop call, so no restore is due.
	assert.Equal(t, 1, h.balancer.captures)
	assert.Equal(t, 0, h.balancer.stops)
	assert.Equal(t, 0, h.balancer.restores)
	assert.Equal(t, 1, h.lock.releases)
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	restores := h.balancer.restores
	releases := h.lock.releases

	// A second pass through the funnel must not produce additional restore
	// attempts or release signals.
	h.orch.cleanup()

	assert.Equal(t, restores, h.balancer.restores)
	assert.Equal(t, releases, h.lock.releases)
}

func TestRunRecordsDurationOnce(t *testing.T) {
	h := newHarness(&fakeConnection{replicaSet: true})

	_, err := h.orch.Run(context.Background())
	require.NoError(t, err)

	d, err := h.timers.Duration(ProgramName)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

func TestRunRecordsDurationOnFailure(t *testing.T) {
	h := newHarness(&fakeConnection{})

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)

	d, err := h.timers.Duration(ProgramName)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d, time.Duration(0))
}

func TestRunExecutorTimestampMatchesRun(t *testing.T) {
	h := newHarness(&fakeConnection{replicaSet: true})

	summary, err := h.orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, h.orch.RunState().BackupTimestamp, summary.Timestamp)
}

func TestRunShardedExecutorAndRestoreBothFail(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.executor.runErr = errors.New("snapshot request rejected")
	h.balancer.restoreErr = errors.New("balancerStart refused")

	log := &captureLogger{}
	h.orch.logger = log

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)

	// The snapshot failure is the returned error.
	assert.Equal(t, apperrors.KindOperation, apperrors.KindOf(err))
	assert.Equal(t, "snapshot execution", apperrors.StepOf(err))

	// The restore was attempted exactly once and its failure still reached
	// the operator even though the snapshot error won.
	assert.Equal(t, 1, h.balancer.restores)
	assert.True(t, log.contains("balancerStart refused"),
		"restore failure must be logged when the snapshot error wins")

	// Cleanup still ran to completion.
	assert.Equal(t, 1, h.balancer.closes)
	assert.Equal(t, 1, h.lock.releases)
}

func TestRunRestoreFailureIsOperationError(t *testing.T) {
	h := newHarness(&fakeConnection{router: true})
	h.balancer.restoreErr = fmt.Errorf("balancerStart failed")

	_, err := h.orch.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "restore balancer", apperrors.StepOf(err))
	assert.Equal(t, 1, h.lock.releases)
}
