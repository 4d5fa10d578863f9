package dbclient

import (
	"surveyflat/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteDSN adds WAL mode and a busy timeout to a SQLite file path.
func SQLiteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// newSQLiteConnector creates a connector for an external SQLite file.
func newSQLiteConnector(conn *domain.DatabaseConnection) (*SQLConnector, error) {
	c, err := newSQLConnector(DialectSQLite, SQLiteDSN(conn.Host))
	if err != nil {
		return nil, err
	}
	// SQLite only supports one writer
	c.db.SetMaxOpenConns(1)
	return c, nil
}
