// Package config loads surveyflat settings from YAML with environment overrides.
package config

// Config is the root configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Export  ExportConfig  `yaml:"export"`
}

// StorageConfig locates the job database.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint served by `serve`.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

// ExportConfig holds engine defaults applied to every run.
type ExportConfig struct {
	MaxIdentifierLength  int   `yaml:"max_identifier_length"`
	Workers              int   `yaml:"workers"`
	StreamWide           bool  `yaml:"stream_wide"`
	SplitSelectMultiples *bool `yaml:"split_select_multiples"`
}

// Split reports whether select_multiple questions become one column per choice.
func (e ExportConfig) Split() bool {
	return e.SplitSelectMultiples == nil || *e.SplitSelectMultiples
}
