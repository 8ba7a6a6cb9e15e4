package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/config"
)

func TestLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewLocal(dir)
	ctx := context.Background()

	ref, err := s.Put(ctx, "captures/ab/abcdef.bin", []byte("body"), "text/html")
	require.NoError(t, err)
	assert.Equal(t, "local:captures/ab/abcdef.bin", ref)
	assert.FileExists(t, filepath.Join(dir, "captures", "ab", "abcdef.bin"))

	data, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))

	require.NoError(t, s.Delete(ctx, ref))
	_, err = os.Stat(filepath.Join(dir, "captures", "ab", "abcdef.bin"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, s.Delete(ctx, ref), "deleting twice is fine")
}

func TestUnknownRef(t *testing.T) {
	s := NewLocal(t.TempDir())
	_, err := s.Get(context.Background(), "s3://x")
	assert.True(t, errors.Is(err, ErrUnknownRef))
	assert.True(t, errors.Is(s.Delete(context.Background(), "s3://x"), ErrUnknownRef))
}

func TestProductionRequiresSupabase(t *testing.T) {
	_, err := New(config.Config{AppEnv: "production", DataDir: t.TempDir()})
	assert.Error(t, err)

	s, err := New(config.Config{AppEnv: "development", DataDir: t.TempDir()})
	require.NoError(t, err)
	ref, err := s.Put(context.Background(), "k", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "local:k", ref)
}
