package domain

import "time"

// TopologyMode identifies the deployment shape detected at run start.
type TopologyMode string

const (
	TopologyReplicaSet TopologyMode = "REPLICA_SET"
	TopologySharded    TopologyMode = "SHARDED"
)

// RunPhase tracks the orchestrator state machine.
type RunPhase string

const (
	PhaseInit          RunPhase = "INIT"
	PhaseLocked        RunPhase = "LOCKED"
	PhaseConnected     RunPhase = "CONNECTED"
	PhaseModeDetected  RunPhase = "MODE_DETECTED"
	PhaseReplicaSetRun RunPhase = "REPLICA_SET_RUN"
	PhaseShardedRun    RunPhase = "SHARDED_RUN"
	PhaseCleanup       RunPhase = "CLEANUP"
	PhaseDone          RunPhase = "DONE"
	PhaseAborted       RunPhase = "ABORTED"
)

// BackupRun is the ephemeral state of one process invocation. It is created
// at process start and discarded at exit; nothing in it survives across runs.
type BackupRun struct {
	ProgramName     string
	BackupTimestamp time.Time
	Phase           RunPhase
	Mode            TopologyMode
	ReplicaSets     map[string]*ReplicaSet

	// BalancerOriginalState is non-nil only for sharded runs where the
	// balancer was successfully stopped. It is consumed by exactly one
	// restore attempt.
	BalancerOriginalState *bool

	Summary   *Summary
	LastError error
}

// NewBackupRun creates a run with its creation timestamp fixed.
func NewBackupRun(programName string) *BackupRun {
	return &BackupRun{
		ProgramName:     programName,
		BackupTimestamp: time.Now().UTC(),
		Phase:           PhaseInit,
	}
}

// SetMode records the detected topology. The mode is set exactly once.
func (r *BackupRun) SetMode(mode TopologyMode) {
	if r.Mode != "" {
		panic("topology mode set twice")
	}
	r.Mode = mode
	r.Phase = PhaseModeDetected
}

// ReplicaSet identifies one replica set to snapshot: a shard, a config
// server replica set, or the single replica set of an unsharded deployment.
type ReplicaSet struct {
	Name string
	// Hosts are the "host:port" members, as reported by discovery.
	Hosts []string
	// ConfigServer marks the config server replica set of a sharded cluster.
	ConfigServer bool
}
