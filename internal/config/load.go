package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads path, applies defaults and env overrides, then validates.
// An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
			}
		}
	}

	ApplyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies SURVEYFLAT_* variables. Unparseable numbers are ignored.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SURVEYFLAT_DB_PATH"); val != "" {
		cfg.Storage.DBPath = val
	}
	if val := os.Getenv("SURVEYFLAT_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("SURVEYFLAT_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("SURVEYFLAT_METRICS_ADDR"); val != "" {
		cfg.Metrics.Address = val
		cfg.Metrics.Enabled = true
	}
	if val := os.Getenv("SURVEYFLAT_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Export.Workers = n
		}
	}
}
