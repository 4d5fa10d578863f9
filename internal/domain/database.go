package domain

import (
	"fmt"
	"strconv"
)

// DatabaseDriver represents the type of database engine.
type DatabaseDriver string

const (
	DatabaseDriverMySQL    DatabaseDriver = "mysql"
	DatabaseDriverPostgres DatabaseDriver = "postgres"
	DatabaseDriverMongoDB  DatabaseDriver = "mongodb"
	DatabaseDriverSQLite   DatabaseDriver = "sqlite"
)

// DatabaseConnection holds the metadata for connecting to an external database,
// either to read submissions from or to export tables into.
// The password is looked up separately through a secret.Store under PasswordKey.
type DatabaseConnection struct {
	Driver      DatabaseDriver `json:"driver"`
	Host        string         `json:"host"`     // hostname, URI (mongodb) or file path (sqlite)
	Port        int            `json:"port"`     // 0 for sqlite
	Database    string         `json:"database"` // db name or empty for sqlite
	Username    string         `json:"username"`
	SSLMode     string         `json:"sslMode"`
	PasswordKey string         `json:"passwordKey"`
	ExtraJSON   string         `json:"extraJson"` // driver-specific options
}

// ConnectionFromConfig reads a DatabaseConnection out of a loosely typed
// source or driver configuration map (as decoded from JSON or YAML).
func ConnectionFromConfig(cfg map[string]any) (*DatabaseConnection, error) {
	conn := &DatabaseConnection{
		Driver:      DatabaseDriver(stringValue(cfg["driver"])),
		Host:        stringValue(cfg["host"]),
		Database:    stringValue(cfg["database"]),
		Username:    stringValue(cfg["username"]),
		SSLMode:     stringValue(cfg["sslMode"]),
		PasswordKey: stringValue(cfg["passwordKey"]),
		ExtraJSON:   stringValue(cfg["extraJson"]),
	}
	switch p := cfg["port"].(type) {
	case int:
		conn.Port = p
	case float64:
		conn.Port = int(p)
	case string:
		if p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q: %w", p, err)
			}
			conn.Port = n
		}
	}

	switch conn.Driver {
	case DatabaseDriverMySQL, DatabaseDriverPostgres, DatabaseDriverMongoDB, DatabaseDriverSQLite:
	case "":
		return nil, fmt.Errorf("driver is required")
	default:
		return nil, fmt.Errorf("unsupported driver: %s", conn.Driver)
	}
	if conn.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return conn, nil
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
