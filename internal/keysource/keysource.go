// Package keysource resolves the token signing key from its configured
// location.
package keysource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"bank-auth/internal/storage"
)

// Load returns signing material. An empty source falls back to literal.
// Supported sources are file://path and s3://bucket/key.
func Load(ctx context.Context, source, literal string, objects storage.Service) ([]byte, error) {
	source = strings.TrimSpace(source)
	switch {
	case source == "":
		if literal == "" {
			return nil, errors.New("signing key is not configured")
		}
		return []byte(literal), nil
	case strings.HasPrefix(source, "file://"):
		path := strings.TrimPrefix(source, "file://")
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read signing key file: %w", err)
		}
		return trim(data)
	case strings.HasPrefix(source, "s3://"):
		if objects == nil {
			return nil, errors.New("s3 signing key source needs object storage")
		}
		loc, err := storage.ParseLocation(source)
		if err != nil {
			return nil, err
		}
		data, err := objects.Fetch(ctx, loc.Bucket, loc.Key)
		if err != nil {
			return nil, fmt.Errorf("fetch signing key %s: %w", loc, err)
		}
		return trim(data)
	default:
		return nil, fmt.Errorf("unsupported signing key source %q", source)
	}
}

// NeedsObjectStorage reports whether source is an s3:// location.
func NeedsObjectStorage(source string) bool {
	return strings.HasPrefix(strings.TrimSpace(source), "s3://")
}

// trim drops surrounding whitespace so a secret file written with a trailing
// newline yields the same key as the literal value.
func trim(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("signing key source is empty")
	}
	return data, nil
}
