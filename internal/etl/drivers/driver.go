// Package drivers holds the export targets: in-memory tables, CSV files and
// SQL tables.
package drivers

import (
	"fmt"
	"sort"

	"surveyflat/internal/domain"
	"surveyflat/internal/etl"
	"surveyflat/internal/secret"
)

// Config is the loosely typed driver configuration of an export job.
type Config map[string]any

// String returns cfg[key] when it is a string.
func (c Config) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns cfg[key] when it is a bool.
func (c Config) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Opener builds a driver from its configuration.
type Opener func(cfg Config, mode etl.SyncMode, secrets secret.Store) (etl.Driver, error)

var openers = map[string]Opener{
	"memory": func(Config, etl.SyncMode, secret.Store) (etl.Driver, error) { return NewMemory(), nil },
	"csv":    openCSV,
	"sql":    openSQL,
}

// Types lists the registered driver types.
func Types() []string {
	types := make([]string, 0, len(openers))
	for t := range openers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Open creates a driver of the given type. An empty mode means replace.
func Open(typ string, cfg Config, mode etl.SyncMode, secrets secret.Store) (etl.Driver, error) {
	open, ok := openers[typ]
	if !ok {
		return nil, fmt.Errorf("unknown driver type: %q", typ)
	}
	switch mode {
	case "":
		mode = etl.SyncReplace
	case etl.SyncReplace, etl.SyncAppend:
	default:
		return nil, fmt.Errorf("unknown sync mode: %q", mode)
	}
	return open(cfg, mode, secrets)
}

func connectionConfig(cfg Config, secrets secret.Store) (*domain.DatabaseConnection, string, error) {
	raw, ok := cfg["connection"].(map[string]any)
	if !ok {
		return nil, "", fmt.Errorf("connection is required")
	}
	conn, err := domain.ConnectionFromConfig(raw)
	if err != nil {
		return nil, "", fmt.Errorf("connection: %w", err)
	}
	pw, err := secret.Password(secrets, conn.PasswordKey)
	if err != nil {
		return nil, "", err
	}
	return conn, pw, nil
}
