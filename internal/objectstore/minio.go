package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/tags"
	"go.uber.org/zap"
)

// MinioStore is the production Store implementation, scoped to a single
// bucket of an S3-compatible server (MinIO in every deployment so far).
type MinioStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// MinioConfig carries the connection settings for the object store.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// NewMinioStore connects to the object store and returns a bucket-scoped Store.
func NewMinioStore(cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &MinioStore{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// Bucket returns the bucket this store is scoped to.
func (s *MinioStore) Bucket() string { return s.bucket }

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %q: %w", key, err)
	}
	return body, nil
}

func (s *MinioStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	return nil
}

func (s *MinioStore) GetTags(ctx context.Context, key string) (map[string]string, error) {
	t, err := s.client.GetObjectTagging(ctx, s.bucket, key, minio.GetObjectTaggingOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get tags for %q: %w", key, err)
	}
	return t.ToMap(), nil
}

func (s *MinioStore) PutTags(ctx context.Context, key string, tagMap map[string]string) error {
	t, err := tags.NewTags(tagMap, true)
	if err != nil {
		return fmt.Errorf("invalid tag set for %q: %w", key, err)
	}
	if err := s.client.PutObjectTagging(ctx, s.bucket, key, t, minio.PutObjectTaggingOptions{}); err != nil {
		return fmt.Errorf("failed to put tags for %q: %w", key, err)
	}
	return nil
}

func (s *MinioStore) CopyTo(ctx context.Context, destBucket, key string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: destBucket, Object: key},
		minio.CopySrcOptions{Bucket: s.bucket, Object: key})
	if err != nil {
		return fmt.Errorf("failed to copy %q to bucket %q: %w", key, destBucket, err)
	}
	return nil
}

func (s *MinioStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", bucket, err)
	}
	s.logger.Info("Created bucket", zap.String("bucket", bucket))
	return nil
}
