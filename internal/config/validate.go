package config

import (
	"fmt"
	"net"
	"strings"
)

// FieldError is a validation failure of one dotted field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every FieldError found.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, err := range e.Errors {
		sb.WriteString("\n  - " + err.Error())
	}
	return sb.String()
}

// Validate returns a ValidationError when any field is out of range.
func Validate(cfg *Config) error {
	var errs []FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.Storage.DBPath == "" {
		add("storage.db_path", "must not be empty")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "unknown level %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		add("log.format", "must be json or text, got %q", cfg.Log.Format)
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Address); err != nil {
			add("metrics.address", "invalid listen address %q", cfg.Metrics.Address)
		}
	}
	if n := cfg.Export.MaxIdentifierLength; n < 1 || n > MaxIdentifierLength {
		add("export.max_identifier_length", "must be between 1 and %d, got %d", MaxIdentifierLength, n)
	}
	if cfg.Export.Workers < 1 {
		add("export.workers", "must be positive, got %d", cfg.Export.Workers)
	}

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}
