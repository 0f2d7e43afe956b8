package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/repository"
)

// S3Repository implements StorageRepository for AWS S3
type S3Repository struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Repository creates an S3 manifest storage backend
func NewS3Repository(ctx context.Context, cfg config.StorageConfig) (*S3Repository, error) {
	var awsCfg aws.Config
	var err error

	if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.S3.AccessKeyID,
					cfg.S3.SecretAccessKey,
					"",
				),
			),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
		}
		o.UsePathStyle = cfg.S3.UsePathStyle
	})

	return &S3Repository{
		client: client,
		bucket: cfg.Path,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Repository) Put(ctx context.Context, key string, data io.Reader, metadata *repository.ObjectMetadata) error {
	fullKey := fmt.Sprintf("%s/%s", s.prefix, key)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   data,
	}
	if metadata != nil && metadata.ContentType != "" {
		input.ContentType = aws.String(metadata.ContentType)
	}
	if metadata != nil && len(metadata.CustomMetadata) > 0 {
		input.Metadata = metadata.CustomMetadata
	}

	_, err := s.client.PutObject(ctx, input)
	return err
}

func (s *S3Repository) Get(ctx context.Context, key string) (io.ReadCloser, *repository.ObjectMetadata, error) {
	fullKey := fmt.Sprintf("%s/%s", s.prefix, key)

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, nil, err
	}

	metadata := &repository.ObjectMetadata{
		Key:  key,
		Size: aws.ToInt64(result.ContentLength),
	}

	return result.Body, metadata, nil
}

func (s *S3Repository) List(ctx context.Context, prefix string) ([]*repository.ObjectInfo, error) {
	fullPrefix := fmt.Sprintf("%s/%s", s.prefix, prefix)
	var objects []*repository.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, &repository.ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	return objects, nil
}

func (s *S3Repository) Exists(ctx context.Context, key string) (bool, error) {
	fullKey := fmt.Sprintf("%s/%s", s.prefix, key)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *S3Repository) Close() error {
	return nil
}

func (s *S3Repository) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}
