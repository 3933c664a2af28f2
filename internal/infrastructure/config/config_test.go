package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Claims.Backend)
	assert.Equal(t, 10000, cfg.Claims.MaxSize)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5, cfg.Stream.FallbackThreshold)
	assert.Equal(t, 10*time.Second, cfg.Stream.LivenessInterval)
	assert.Equal(t, 30*time.Second, cfg.Stream.LivenessTimeout)
	assert.Equal(t, 25, cfg.Poll.PageSize)
	assert.True(t, cfg.Webhook.EnforceSignature)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9999
claims:
  backend: memory
  max_size: 50
poll:
  interval: 30s
  page_size: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Claims.Backend)
	assert.Equal(t, 50, cfg.Claims.MaxSize)
	assert.Equal(t, 30*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 10, cfg.Poll.PageSize)
}

func TestLoadMissingFileIsOptional(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("claims:\n  backend: etcd\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
