package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 16, cfg.Pool.MaxConnections)
	assert.Equal(t, 100, cfg.Search.QueueCapacityPerLevel)
	assert.Equal(t, 16, cfg.Search.FairnessK)
	assert.InDelta(t, 0.4, cfg.Search.KeywordWeight, 1e-9)
	assert.InDelta(t, 0.6, cfg.Search.VectorWeight, 1e-9)
}

func TestLoadOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte("pool:\n  max_connections: 42\n"), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Pool.MaxConnections)
	// Unspecified fields keep their defaults.
	assert.Equal(t, 100, cfg.Search.QueueCapacityPerLevel)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Pool, cfg.Pool)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CORTEXMESH_STORE_DSN", "postgres://x")
	t.Setenv("CORTEXMESH_REDIS_ADDR", "redis:6380")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", cfg.Store.DSN)
	assert.Equal(t, "redis:6380", cfg.Memory.RedisAddr)
}
