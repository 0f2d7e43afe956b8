package repository

import (
	"context"

	"github.com/jamielennox/aws-snapshot/internal/domain"
)

// Connection defines role queries against one MongoDB endpoint. Role queries
// are only valid while connected.
type Connection interface {
	// IsRouter reports whether the endpoint is a mongos query router.
	IsRouter(ctx context.Context) (bool, error)

	// IsConfigServer reports whether the endpoint is a config server member.
	IsConfigServer(ctx context.Context) (bool, error)

	// IsReplicaSet reports whether the endpoint is an ordinary replica-set
	// member.
	IsReplicaSet(ctx context.Context) (bool, error)

	// Close terminates the connection.
	Close(ctx context.Context) error
}

// ReplicaSetResolver discovers the replica sets behind a connection.
type ReplicaSetResolver interface {
	// ResolveSingle returns the name and handle of the local replica set.
	ResolveSingle(ctx context.Context) (string, *domain.ReplicaSet, error)

	// ResolveSharded returns the full shard-name to replica-set map of a
	// sharded cluster, including the config server replica set when
	// configured to.
	ResolveSharded(ctx context.Context) (map[string]*domain.ReplicaSet, error)

	// Close releases discovery resources.
	Close() error
}

// BalancerController drives the balancer compensating-action protocol for
// sharded clusters.
type BalancerController interface {
	// CaptureStartState records whether the balancer is currently enabled.
	// It must be called before StopBalancer and is the only source of truth
	// for restoration.
	CaptureStartState(ctx context.Context) (bool, error)

	// StopBalancer disables the balancer.
	StopBalancer(ctx context.Context) error

	// RestoreBalancerState returns the balancer to its captured state. Only
	// meaningful after a successful CaptureStartState.
	RestoreBalancerState(ctx context.Context) error

	// Close releases the controller. Idempotent.
	Close() error
}
