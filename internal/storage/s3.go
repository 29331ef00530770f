package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// MaxObjectBytes caps what Fetch will pull into memory.
const MaxObjectBytes = 64 << 10

// S3Service fetches objects from Amazon S3 (or compatible APIs).
type S3Service struct {
	client     *s3.Client
	downloader *manager.Downloader
}

func NewS3Service(client *s3.Client) *S3Service {
	return &S3Service{
		client:     client,
		downloader: manager.NewDownloader(client),
	}
}

func (s *S3Service) Fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if key == "" {
		return nil, fmt.Errorf("object key is required")
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("head object %s: %w", key, err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size > MaxObjectBytes {
		return nil, fmt.Errorf("object %s is %d bytes, limit is %d", key, size, MaxObjectBytes)
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	n, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download object %s: %w", key, err)
	}
	return buf.Bytes()[:n], nil
}

var _ Service = (*S3Service)(nil)
