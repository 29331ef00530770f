package keysource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeObjects struct {
	objects map[string][]byte
	calls   []string
}

func (f *fakeObjects) Fetch(_ context.Context, bucket, key string) ([]byte, error) {
	f.calls = append(f.calls, bucket+"/"+key)
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func TestLoadLiteral(t *testing.T) {
	key, err := Load(context.Background(), "", "literal-secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "literal-secret", string(key))

	_, err = Load(context.Background(), "", "", nil)
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt.key")
	require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o600))

	key, err := Load(context.Background(), "file://"+path, "ignored", nil)
	require.NoError(t, err)
	assert.Equal(t, "file-secret", string(key))

	_, err = Load(context.Background(), "file://"+filepath.Join(t.TempDir(), "missing"), "", nil)
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, err = Load(context.Background(), "file://"+empty, "", nil)
	assert.ErrorContains(t, err, "empty")
}

func TestLoadS3(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{
		"secrets/auth/jwt.key": []byte("s3-secret\n"),
	}}

	key, err := Load(context.Background(), "s3://secrets/auth/jwt.key", "", objects)
	require.NoError(t, err)
	assert.Equal(t, "s3-secret", string(key))
	assert.Equal(t, []string{"secrets/auth/jwt.key"}, objects.calls)

	_, err = Load(context.Background(), "s3://secrets/other", "", objects)
	assert.Error(t, err)

	_, err = Load(context.Background(), "s3://secrets", "", objects)
	assert.Error(t, err)

	_, err = Load(context.Background(), "s3://secrets/auth/jwt.key", "", nil)
	assert.Error(t, err)
}

func TestLoadUnsupported(t *testing.T) {
	_, err := Load(context.Background(), "vault://secret/jwt", "", nil)
	assert.ErrorContains(t, err, "unsupported")

	assert.True(t, NeedsObjectStorage(" s3://bucket/key"))
	assert.False(t, NeedsObjectStorage("file:///tmp/key"))
}
