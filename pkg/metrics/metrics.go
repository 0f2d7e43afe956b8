package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_snapshot_runs_total",
			Help: "Total number of backup runs",
		},
		[]string{"mode", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongo_snapshot_run_duration_seconds",
			Help:    "Duration of complete backup runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// Snapshot metrics
	SnapshotsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_snapshot_snapshots_created_total",
			Help: "Total number of EBS snapshots created",
		},
		[]string{"replica_set", "status"},
	)

	SnapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mongo_snapshot_replica_set_duration_seconds",
			Help:    "Duration of per-replica-set snapshot work",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"replica_set"},
	)

	// Balancer metrics
	BalancerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_snapshot_balancer_operations_total",
			Help: "Total balancer stop/restore operations",
		},
		[]string{"operation", "status"},
	)

	// Manifest storage metrics
	StorageOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mongo_snapshot_storage_operations_total",
			Help: "Total manifest storage operations",
		},
		[]string{"operation", "status"},
	)
)
