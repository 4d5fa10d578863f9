package dbclient

import (
	"context"
	"fmt"

	"surveyflat/internal/domain"
)

// QueryPage is a batch of rows fetched from a query cursor.
type QueryPage struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	TotalFetched int      `json:"totalFetched"` // total rows fetched so far
	HasMore      bool     `json:"hasMore"`      // cursor has more rows
}

// SchemaInfo lists the tables or collections of a database.
type SchemaInfo struct {
	Tables []TableInfo `json:"tables"`
}

// TableInfo describes a table/collection.
type TableInfo struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes a column/field.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Connector is the part every database connection supports: submission
// sources read through it and export drivers write through it.
type Connector interface {
	// TestConnection verifies connectivity.
	TestConnection(ctx context.Context) error

	// Introspect returns the tables (or collections) and their columns.
	Introspect(ctx context.Context) (*SchemaInfo, error)

	// Close closes the connection and any open cursors.
	Close() error
}

// NewConnector creates a Connector for the given database connection.
// The password must be provided separately (from a secret.Store).
func NewConnector(conn *domain.DatabaseConnection, password string) (Connector, error) {
	if conn.Driver == domain.DatabaseDriverMongoDB {
		return OpenMongo(conn, password)
	}
	return OpenSQL(conn, password)
}

// OpenSQL opens a SQLite, MySQL or Postgres connection.
func OpenSQL(conn *domain.DatabaseConnection, password string) (*SQLConnector, error) {
	switch conn.Driver {
	case domain.DatabaseDriverSQLite:
		return newSQLiteConnector(conn)
	case domain.DatabaseDriverMySQL:
		return newSQLConnector(DialectMySQL, buildMySQLDSN(conn, password))
	case domain.DatabaseDriverPostgres:
		return newSQLConnector(DialectPostgres, buildPostgresDSN(conn, password))
	default:
		return nil, fmt.Errorf("unsupported sql driver: %s", conn.Driver)
	}
}
