package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML shape for --config, following the same
// small-struct-plus-yaml.v3 idiom straga-Mimir_lite's nornicdb config
// loading uses. Only LogLevel is applied: it replaces --log-level when that
// flag is left at its default "info". StorageBackend, DataDir and ReplicaID
// are parsed but not used by any command.
type fileConfig struct {
	StorageBackend string `yaml:"storageBackend"` // "sqlite" (only backend today)
	DataDir        string `yaml:"dataDir"`
	ReplicaID      string `yaml:"replicaId"`
	LogLevel       string `yaml:"logLevel"`
}

func loadConfig(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
