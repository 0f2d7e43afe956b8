package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	"github.com/jamielennox/aws-snapshot/pkg/metrics"
	"github.com/jamielennox/aws-snapshot/pkg/utils"
)

// Manifest is the persisted record of one backup run.
type Manifest struct {
	Program     string                   `json:"program"`
	Mode        domain.TopologyMode      `json:"mode"`
	Timestamp   time.Time                `json:"timestamp"`
	CompletedAt time.Time                `json:"completed_at"`
	Duration    string                   `json:"duration"`
	Results     []*domain.SnapshotResult `json:"results"`
	Checksum    string                   `json:"checksum,omitempty"`
}

// ManifestWriter persists run manifests to a storage backend.
type ManifestWriter struct {
	repo    repository.StorageRepository
	program string
}

// NewManifestWriter creates a manifest writer over a storage backend.
func NewManifestWriter(repo repository.StorageRepository, program string) *ManifestWriter {
	return &ManifestWriter{repo: repo, program: program}
}

// Write persists the summary of a run as backups/<timestamp>/manifest.json.
func (w *ManifestWriter) Write(ctx context.Context, summary *domain.Summary, duration time.Duration) error {
	manifest := &Manifest{
		Program:     w.program,
		Mode:        summary.Mode,
		Timestamp:   summary.Timestamp,
		CompletedAt: summary.CompletedAt,
		Duration:    duration.String(),
	}
	names := make([]string, 0, len(summary.Results))
	for name := range summary.Results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		manifest.Results = append(manifest.Results, summary.Results[name])
	}

	body, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	manifest.Checksum = utils.Checksum(body)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	key := path.Join("backups", summary.Timestamp.Format("20060102-150405"), "manifest.json")
	meta := &repository.ObjectMetadata{
		Key:         key,
		Size:        int64(len(data)),
		ContentType: "application/json",
		CustomMetadata: map[string]string{
			"program": w.program,
			"mode":    string(summary.Mode),
		},
	}

	if err := w.repo.Put(ctx, key, bytes.NewReader(data), meta); err != nil {
		metrics.StorageOperations.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	metrics.StorageOperations.WithLabelValues("put", "success").Inc()
	return nil
}
