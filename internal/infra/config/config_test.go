package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsPopulated(t *testing.T) {
	cfg := Defaults()
	assert.NotEmpty(t, cfg.BaseDir)
	assert.Equal(t, "wasm-local", cfg.Embedding.Provider)
	assert.Equal(t, 100, cfg.Embedding.CacheSize)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.False(t, cfg.Tracer.Enabled)
	assert.Equal(t, 120, cfg.Replication.TickSeconds)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Embedding.Provider, cfg.Embedding.Provider)
}

func TestLoadOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\nreplication:\n  enabled: true\n  machine_id: host-a\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Replication.Enabled)
	assert.Equal(t, "host-a", cfg.Replication.MachineID)
	// Unset fields keep their defaults.
	assert.Equal(t, "wasm-local", cfg.Embedding.Provider)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}
