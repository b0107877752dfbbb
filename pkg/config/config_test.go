package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeFillsZeroFields tests that only unset fields fall back to
// Default(), leaving explicit non-zero fields untouched.
func TestNormalizeFillsZeroFields(t *testing.T) {
	cfg := EngineConfig{MaxKeySize: 128}
	cfg.Normalize()

	d := Default()
	assert.Equal(t, uint32(128), cfg.MaxKeySize)
	assert.Equal(t, d.MaxValueSize, cfg.MaxValueSize)
	assert.Equal(t, d.CompactionThresholdBytes, cfg.CompactionThresholdBytes)
	assert.Equal(t, d.CompactionRatio, cfg.CompactionRatio)
}

// TestLoadParsesYAML tests that Load decodes a YAML file and normalizes it.
func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	yamlBody := "maxKeySize: 512\nmaxValueSize: 2048\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(512), cfg.MaxKeySize)
	assert.Equal(t, uint32(2048), cfg.MaxValueSize)
	assert.Equal(t, Default().CompactionRatio, cfg.CompactionRatio)
}

// TestLoadMissingFile tests the error path for a nonexistent config file.
func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
