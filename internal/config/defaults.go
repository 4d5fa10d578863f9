package config

import (
	"os"
	"path/filepath"
)

const (
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultMetricsAddress      = "127.0.0.1:9464"
	DefaultMetricsNamespace    = "surveyflat"
	DefaultMaxIdentifierLength = 30
	DefaultWorkers             = 4
	MaxIdentifierLength        = 31
)

// DefaultDBPath is ~/.surveyflat/surveyflat.db, or a relative path when the
// home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".surveyflat", "surveyflat.db")
	}
	return filepath.Join(home, ".surveyflat", "surveyflat.db")
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = DefaultDBPath()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = DefaultMetricsAddress
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Export.MaxIdentifierLength == 0 {
		cfg.Export.MaxIdentifierLength = DefaultMaxIdentifierLength
	}
	if cfg.Export.Workers == 0 {
		cfg.Export.Workers = DefaultWorkers
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
