package etl

import "context"

// ── Driver ─────────────────────────────────────────────────
// A Driver persists flattened tables: CSV files, SQL tables, memory.
// The engine calls it from a single goroutine: WriteHeader once per table
// before any of its rows, then WriteRow in record order, then Close.
//
// Pattern: Singer target protocol.

// SyncMode determines how a driver treats tables that already exist.
type SyncMode string

const (
	SyncReplace SyncMode = "replace" // drop existing rows and columns, write fresh
	SyncAppend  SyncMode = "append"  // keep existing rows, add missing columns
)

// Table is one output table as seen by a driver.
type Table struct {
	Name    string   `json:"name"`    // issued identifier
	Section string   `json:"section"` // section name, the survey name in wide mode
	Columns []string `json:"columns"` // row keys, in output order
	Headers []string `json:"headers"` // display labels aligned with Columns
}

// SectionTable describes the table of a relational section.
func SectionTable(sec *Section, name string) *Table {
	return &Table{Name: name, Section: sec.Name, Columns: sec.Columns(), Headers: sec.Headers()}
}

// WideTable describes the single table of a wide export.
func WideTable(name, survey string, columns []string) *Table {
	cols := append([]string(nil), columns...)
	return &Table{Name: name, Section: survey, Columns: cols, Headers: append([]string(nil), cols...)}
}

// Driver writes tables to a target system.
type Driver interface {
	WriteHeader(ctx context.Context, t *Table) error
	WriteRow(ctx context.Context, t *Table, row Row) error
	Close() error
}

// ColumnExtender is implemented by drivers that can add columns to a table
// after rows have been written. Streaming wide exports need it.
type ColumnExtender interface {
	ExtendColumns(ctx context.Context, t *Table, columns []string) error
}
