package domain

import "time"

// Volume is one EBS volume backing a replica-set member.
type Volume struct {
	ID         string
	Device     string
	InstanceID string
}

// SnapshotResult is the outcome of snapshot work for one replica set.
type SnapshotResult struct {
	ReplicaSet  string
	VolumeIDs   []string
	SnapshotIDs []string
	Status      SnapshotStatus
	Error       string
	Duration    time.Duration
}

type SnapshotStatus string

const (
	SnapshotStatusCompleted SnapshotStatus = "completed"
	SnapshotStatusFailed    SnapshotStatus = "failed"
	SnapshotStatusCancelled SnapshotStatus = "cancelled"
)

// Summary aggregates per-replica-set results for one run.
type Summary struct {
	Mode        TopologyMode
	Timestamp   time.Time
	Results     map[string]*SnapshotResult
	CompletedAt time.Time
}

// NewSummary creates an empty summary for the given run.
func NewSummary(mode TopologyMode, ts time.Time) *Summary {
	return &Summary{
		Mode:      mode,
		Timestamp: ts,
		Results:   make(map[string]*SnapshotResult),
	}
}

// Failed reports whether any replica set failed or was cancelled.
func (s *Summary) Failed() bool {
	for _, r := range s.Results {
		if r.Status != SnapshotStatusCompleted {
			return true
		}
	}
	return false
}

// SnapshotCount returns the total number of snapshots created.
func (s *Summary) SnapshotCount() int {
	n := 0
	for _, r := range s.Results {
		n += len(r.SnapshotIDs)
	}
	return n
}
