package blob_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casetrust/anchor/pkg/blob"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("evidence bytes")
	ref, err := s.Store(ctx, data, "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref.StorageID, "sha256:"))
	assert.True(t, strings.HasPrefix(ref.URL, "file://"))

	got, err := s.Get(ctx, ref.StorageID)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := s.Exists(ctx, ref.StorageID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileStoreIdempotentStore(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref1, err := s.Store(ctx, []byte("same bytes"), "image/png")
	require.NoError(t, err)
	ref2, err := s.Store(ctx, []byte("same bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)
}

func TestFileStoreInvalidStorageID(t *testing.T) {
	s, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Get(ctx, "md5:abcd")
	assert.Error(t, err)

	_, err = s.Get(ctx, "sha256:zz")
	assert.Error(t, err)

	ok, err := s.Exists(ctx, "sha256:"+strings.Repeat("ab", 32))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactoryDefaultsToFilesystem(t *testing.T) {
	s, err := blob.New(context.Background(), blob.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.IsType(t, &blob.FileStore{}, s)
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := blob.New(context.Background(), blob.Config{Type: "tape"})
	assert.Error(t, err)

	_, err = blob.New(context.Background(), blob.Config{Type: blob.StoreTypeS3})
	assert.Error(t, err, "s3 without bucket must fail")
}
