package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Pools.ContentWorkers)
	assert.Equal(t, 1, cfg.Pools.ConnectionWorkers)
	assert.Equal(t, 60*time.Second, cfg.BlobStore.WaitTimeout.Std())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
  json: true
pools:
  content_workers: 4
blobstore:
  wait_timeout: 5s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 4, cfg.Pools.ContentWorkers)
	// Untouched keys keep their defaults
	assert.Equal(t, 1, cfg.Pools.ConnectionWorkers)
	assert.Equal(t, 5*time.Second, cfg.BlobStore.WaitTimeout.Std())
	assert.Equal(t, 30*time.Second, cfg.BlobStore.SweepInterval.Std())
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blobstore:\n  wait_timeout: banana\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
