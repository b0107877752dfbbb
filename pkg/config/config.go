// Package config loads TegDB's engine configuration from YAML, the way the
// reference project decodes its resource manifests.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig controls the storage engine's size limits, quota, and
// compaction policy. All fields are optional; zero values fall back to
// Default()'s values via Normalize.
type EngineConfig struct {
	MaxKeySize              uint32  `yaml:"maxKeySize"`
	MaxValueSize             uint32 `yaml:"maxValueSize"`
	PreallocateSize          uint64 `yaml:"preallocateSize"`
	CompactionThresholdBytes uint64 `yaml:"compactionThresholdBytes"`
	CompactionRatio          float64 `yaml:"compactionRatio"`
}

// Default returns TegDB's out-of-the-box engine configuration.
func Default() EngineConfig {
	return EngineConfig{
		MaxKeySize:               4096,
		MaxValueSize:             1 << 20, // 1 MiB
		PreallocateSize:          0,       // disabled
		CompactionThresholdBytes: 64 << 20, // 64 MiB
		CompactionRatio:          0.5,
	}
}

// Normalize fills in zero-valued fields with Default()'s values.
func (c *EngineConfig) Normalize() {
	d := Default()
	if c.MaxKeySize == 0 {
		c.MaxKeySize = d.MaxKeySize
	}
	if c.MaxValueSize == 0 {
		c.MaxValueSize = d.MaxValueSize
	}
	if c.CompactionThresholdBytes == 0 {
		c.CompactionThresholdBytes = d.CompactionThresholdBytes
	}
	if c.CompactionRatio == 0 {
		c.CompactionRatio = d.CompactionRatio
	}
}

// Load reads an EngineConfig from a YAML file at path.
func Load(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("read engine config: %w", err)
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("parse engine config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}
