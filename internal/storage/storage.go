package storage

import (
	"context"
	"fmt"
	"strings"
)

// Service reads small objects (key material, key lists) from remote storage.
type Service interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// Location is a parsed s3://bucket/key reference.
type Location struct {
	Bucket string
	Key    string
}

func (l Location) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
}

// ParseLocation splits an s3://bucket/key URI.
func ParseLocation(uri string) (Location, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return Location{}, fmt.Errorf("invalid s3 location")
	}
	rest := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		return Location{}, fmt.Errorf("invalid s3 location")
	}
	if len(parts) == 1 || strings.Trim(parts[1], "/") == "" {
		return Location{}, fmt.Errorf("s3 key missing")
	}
	return Location{Bucket: parts[0], Key: strings.TrimPrefix(parts[1], "/")}, nil
}
