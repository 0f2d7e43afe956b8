package mongo

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/jamielennox/aws-snapshot/pkg/logger"
	"github.com/jamielennox/aws-snapshot/pkg/metrics"
)

// BalancerController captures, stops, and restores the cluster balancer on a
// sharded deployment. The captured start state is the only source of truth
// for restoration and is consumed by exactly one restore attempt.
type BalancerController struct {
	conn   *Connection
	logger logger.Logger

	mu              sync.Mutex
	originalEnabled *bool
	restored        bool
	closed          bool
}

// NewBalancerController creates a controller over an established connection
// to a mongos or config server.
func NewBalancerController(conn *Connection, log logger.Logger) *BalancerController {
	return &BalancerController{conn: conn, logger: log}
}

// CaptureStartState records whether the balancer is currently enabled. Must
// be called before StopBalancer.
func (b *BalancerController) CaptureStartState(ctx context.Context) (bool, error) {
	var resp struct {
		Mode string `bson:"mode"`
	}
	err := b.conn.Client().Database("admin").
		RunCommand(ctx, bson.D{{Key: "balancerStatus", Value: 1}}).
		Decode(&resp)
	if err != nil {
		return false, fmt.Errorf("balancerStatus command failed: %w", err)
	}

	enabled := resp.Mode != "off"

	b.mu.Lock()
	b.originalEnabled = &enabled
	b.restored = false
	b.mu.Unlock()

	b.logger.Info("Captured balancer start state", "enabled", enabled)
	return enabled, nil
}

// StopBalancer disables the balancer for the snapshot window.
func (b *BalancerController) StopBalancer(ctx context.Context) error {
	err := b.conn.Client().Database("admin").
		RunCommand(ctx, bson.D{{Key: "balancerStop", Value: 1}}).
		Err()
	if err != nil {
		metrics.BalancerOperations.WithLabelValues("stop", "error").Inc()
		return fmt.Errorf("balancerStop command failed: %w", err)
	}

	metrics.BalancerOperations.WithLabelValues("stop", "success").Inc()
	b.logger.Info("Balancer stopped")
	return nil
}

// RestoreBalancerState returns the balancer to its captured state. Only
// meaningful after a successful CaptureStartState; the captured state is
// consumed so a second call is a no-op.
func (b *BalancerController) RestoreBalancerState(ctx context.Context) error {
	b.mu.Lock()
	if b.originalEnabled == nil {
		b.mu.Unlock()
		return fmt.Errorf("no captured balancer state to restore")
	}
	if b.restored {
		b.mu.Unlock()
		return nil
	}
	b.restored = true
	enabled := *b.originalEnabled
	b.mu.Unlock()

	if !enabled {
		b.logger.Info("Balancer was disabled before the run, leaving it stopped")
		metrics.BalancerOperations.WithLabelValues("restore", "success").Inc()
		return nil
	}

	err := b.conn.Client().Database("admin").
		RunCommand(ctx, bson.D{{Key: "balancerStart", Value: 1}}).
		Err()
	if err != nil {
		metrics.BalancerOperations.WithLabelValues("restore", "error").Inc()
		return fmt.Errorf("balancerStart command failed: %w", err)
	}

	metrics.BalancerOperations.WithLabelValues("restore", "success").Inc()
	b.logger.Info("Balancer restored", "enabled", enabled)
	return nil
}

// Close releases the controller. Idempotent; the underlying connection is
// owned and closed by the caller.
func (b *BalancerController) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
