package dbclient

import (
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"surveyflat/internal/domain"
)

func hostPort(conn *domain.DatabaseConnection, fallback int) string {
	port := conn.Port
	if port == 0 {
		port = fallback
	}
	return net.JoinHostPort(conn.Host, strconv.Itoa(port))
}

// buildMySQLDSN formats conn with the driver's own Config so passwords with
// reserved characters survive.
func buildMySQLDSN(conn *domain.DatabaseConnection, password string) string {
	cfg := mysql.NewConfig()
	cfg.User = conn.Username
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(conn, 3306)
	cfg.DBName = conn.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	switch conn.SSLMode {
	case "require":
		cfg.TLSConfig = "true"
	case "skip-verify":
		cfg.TLSConfig = "skip-verify"
	}
	return cfg.FormatDSN()
}

// buildPostgresDSN returns a lib/pq key=value connection string.
func buildPostgresDSN(conn *domain.DatabaseConnection, password string) string {
	port := conn.Port
	if port == 0 {
		port = 5432
	}
	sslMode := conn.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	pairs := [][2]string{
		{"host", conn.Host},
		{"port", strconv.Itoa(port)},
		{"user", conn.Username},
		{"password", password},
		{"dbname", conn.Database},
		{"sslmode", sslMode},
	}
	var b strings.Builder
	for _, p := range pairs {
		if p[1] == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(pqValue(p[1]))
	}
	return b.String()
}

// pqValue quotes a value when it holds spaces, quotes or backslashes.
func pqValue(v string) string {
	if !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}
