package ebs

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
)

var _ repository.VolumeSnapshotter = (*Snapshotter)(nil)

// Snapshotter creates EBS snapshots of the volumes backing a replica set.
// Volumes are discovered by the configured tag key, whose value is the
// replica-set name.
type Snapshotter struct {
	client *ec2.Client
	cfg    config.SnapshotConfig
	logger logger.Logger
}

// NewSnapshotter builds an EC2-backed snapshotter using the default AWS
// credential chain.
func NewSnapshotter(ctx context.Context, cfg config.SnapshotConfig, log logger.Logger) (*Snapshotter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Snapshotter{
		client: ec2.NewFromConfig(awsCfg),
		cfg:    cfg,
		logger: log,
	}, nil
}

// FindVolumes returns the in-use data volumes tagged for the named replica
// set.
func (s *Snapshotter) FindVolumes(ctx context.Context, replicaSet string) ([]domain.Volume, error) {
	var volumes []domain.Volume

	paginator := ec2.NewDescribeVolumesPaginator(s.client, &ec2.DescribeVolumesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String("tag:" + s.cfg.VolumeTagKey),
				Values: []string{replicaSet},
			},
			{
				Name:   aws.String("status"),
				Values: []string{"in-use"},
			},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to describe volumes: %w", err)
		}
		for _, vol := range page.Volumes {
			v := domain.Volume{ID: aws.ToString(vol.VolumeId)}
			if len(vol.Attachments) > 0 {
				v.Device = aws.ToString(vol.Attachments[0].Device)
				v.InstanceID = aws.ToString(vol.Attachments[0].InstanceId)
			}
			volumes = append(volumes, v)
		}
	}

	return volumes, nil
}

// CreateSnapshot starts a snapshot of one volume and returns its ID. Tags
// are applied at creation so a crash can never leave an untagged snapshot.
func (s *Snapshotter) CreateSnapshot(ctx context.Context, volumeID, description string, tags map[string]string) (string, error) {
	ec2Tags := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		ec2Tags = append(ec2Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	out, err := s.client.CreateSnapshot(ctx, &ec2.CreateSnapshotInput{
		VolumeId:    aws.String(volumeID),
		Description: aws.String(description),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeSnapshot,
				Tags:         ec2Tags,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot of %s: %w", volumeID, err)
	}

	snapshotID := aws.ToString(out.SnapshotId)
	s.logger.Info("Snapshot created", "volumeID", volumeID, "snapshotID", snapshotID)
	return snapshotID, nil
}

// WaitCompleted blocks until the given snapshots complete, the timeout
// elapses, or ctx is cancelled.
func (s *Snapshotter) WaitCompleted(ctx context.Context, snapshotIDs []string, timeout time.Duration) error {
	if len(snapshotIDs) == 0 {
		return nil
	}

	waiter := ec2.NewSnapshotCompletedWaiter(s.client)
	err := waiter.Wait(ctx, &ec2.DescribeSnapshotsInput{SnapshotIds: snapshotIDs}, timeout)
	if err != nil {
		return fmt.Errorf("waiting for snapshots %v: %w", snapshotIDs, err)
	}
	return nil
}
