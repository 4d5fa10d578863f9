package drivers

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"surveyflat/internal/dbclient"
	"surveyflat/internal/etl"
	"surveyflat/internal/secret"
)

// SQL writes each export table into a table of a SQLite, MySQL or Postgres
// database. Every column is TEXT; missing cells are NULL. Column names longer
// than MaxColumnNameBytes are shortened by ColumnName.
type SQL struct {
	db     *dbclient.SQLConnector
	mode   etl.SyncMode
	log    *slog.Logger
	tables map[string]*sqlTable
}

// MaxColumnNameBytes bounds SQL column names. Postgres truncates past 63
// bytes and MySQL rejects names over 64 characters.
const MaxColumnNameBytes = 63

type sqlTable struct {
	keys    []string // export column keys, in insert order
	columns []string // SQL column names for keys
	present map[string]bool
	insert  string
}

// ColumnName maps an export column key to its SQL column name. Keys that fit
// are kept verbatim. Longer keys are cut on a rune boundary and suffixed with a
// hash of the full key, so the same key maps to the same name on every run.
func ColumnName(key string) string {
	if len(key) <= MaxColumnNameBytes {
		return key
	}
	suffix := "_" + uuid.NewSHA1(uuid.Nil, []byte(key)).String()[:8]
	cut := MaxColumnNameBytes - len(suffix)
	for cut > 0 && !utf8.RuneStart(key[cut]) {
		cut--
	}
	return key[:cut] + suffix
}

func columnNames(keys []string) ([]string, error) {
	names := make([]string, len(keys))
	seen := make(map[string]string, len(keys))
	for i, k := range keys {
		names[i] = ColumnName(k)
		if prev, dup := seen[names[i]]; dup && prev != k {
			return nil, fmt.Errorf("columns %q and %q both map to %q", prev, k, names[i])
		}
		seen[names[i]] = k
	}
	return names, nil
}

func openSQL(cfg Config, mode etl.SyncMode, secrets secret.Store) (etl.Driver, error) {
	conn, pw, err := connectionConfig(cfg, secrets)
	if err != nil {
		return nil, fmt.Errorf("sql driver: %w", err)
	}
	db, err := dbclient.OpenSQL(conn, pw)
	if err != nil {
		return nil, fmt.Errorf("sql driver: %w", err)
	}
	return NewSQL(db, mode), nil
}

// NewSQL wraps an open connection. Close closes it.
func NewSQL(db *dbclient.SQLConnector, mode etl.SyncMode) *SQL {
	return &SQL{
		db:     db,
		mode:   mode,
		log:    slog.Default().With("component", "sql-driver", "dialect", string(db.Dialect())),
		tables: map[string]*sqlTable{},
	}
}

func (d *SQL) WriteHeader(ctx context.Context, t *etl.Table) error {
	name := d.db.QuoteIdent(t.Name)
	keys := append([]string(nil), t.Columns...)
	cols, err := columnNames(keys)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	present := make(map[string]bool, len(cols))

	if d.mode == etl.SyncReplace {
		if err := d.db.Exec(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
			return err
		}
		if err := d.create(ctx, name, cols); err != nil {
			return err
		}
	} else {
		existing, err := d.db.TableColumns(ctx, t.Name)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := d.create(ctx, name, cols); err != nil {
				return err
			}
		} else {
			for _, c := range existing {
				present[c] = true
			}
			var missing []string
			for _, c := range cols {
				if !slices.Contains(existing, c) {
					missing = append(missing, c)
				}
			}
			if err := d.addColumns(ctx, name, missing); err != nil {
				return err
			}
			d.log.Debug("appending to existing table", "table", t.Name, "added_columns", len(missing))
		}
	}

	for _, c := range cols {
		present[c] = true
	}
	d.tables[t.Name] = &sqlTable{keys: keys, columns: cols, present: present, insert: d.insertStatement(name, cols)}
	return nil
}

func (d *SQL) create(ctx context.Context, name string, cols []string) error {
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = d.db.QuoteIdent(c) + " TEXT"
	}
	return d.db.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", name, strings.Join(defs, ", ")))
}

func (d *SQL) addColumns(ctx context.Context, name string, cols []string) error {
	for _, c := range cols {
		if err := d.db.Exec(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", name, d.db.QuoteIdent(c))); err != nil {
			return err
		}
	}
	return nil
}

func (d *SQL) insertStatement(name string, cols []string) string {
	quoted := make([]string, len(cols))
	params := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.db.QuoteIdent(c)
		params[i] = d.db.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", name, strings.Join(quoted, ", "), strings.Join(params, ", "))
}

func (d *SQL) WriteRow(ctx context.Context, t *etl.Table, row etl.Row) error {
	st, ok := d.tables[t.Name]
	if !ok {
		return fmt.Errorf("table %s: no header written", t.Name)
	}
	args := make([]any, len(st.keys))
	for i, k := range st.keys {
		if v, ok := row[k]; ok && v != nil {
			args[i] = etl.FormatScalar(v)
		}
	}
	return d.db.Exec(ctx, st.insert, args...)
}

func (d *SQL) ExtendColumns(ctx context.Context, t *etl.Table, columns []string) error {
	st, ok := d.tables[t.Name]
	if !ok {
		return fmt.Errorf("table %s: no header written", t.Name)
	}
	name := d.db.QuoteIdent(t.Name)
	keys := append(append([]string(nil), st.keys...), columns...)
	cols, err := columnNames(keys)
	if err != nil {
		return fmt.Errorf("table %s: %w", t.Name, err)
	}
	var missing []string
	for _, c := range cols[len(st.keys):] {
		if !st.present[c] {
			missing = append(missing, c)
			st.present[c] = true
		}
	}
	if err := d.addColumns(ctx, name, missing); err != nil {
		return err
	}
	st.keys, st.columns = keys, cols
	st.insert = d.insertStatement(name, st.columns)
	return nil
}

func (d *SQL) Close() error { return d.db.Close() }
