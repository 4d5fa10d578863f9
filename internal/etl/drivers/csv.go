package drivers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"surveyflat/internal/etl"
	"surveyflat/internal/secret"
)

// CSV writes one <table>.csv per export table into a directory. The header
// row holds the column keys, or the display headers when headerLabels is set.
type CSV struct {
	dir    string
	mode   etl.SyncMode
	labels bool
	tables map[string]*csvTable
}

type csvTable struct {
	path    string
	file    *os.File
	w       *csv.Writer
	columns []string
}

func openCSV(cfg Config, mode etl.SyncMode, _ secret.Store) (etl.Driver, error) {
	dir := cfg.String("dir")
	if dir == "" {
		return nil, fmt.Errorf("csv driver: dir is required")
	}
	return NewCSV(dir, mode, cfg.Bool("headerLabels"))
}

// NewCSV creates the output directory if needed.
func NewCSV(dir string, mode etl.SyncMode, headerLabels bool) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &CSV{dir: dir, mode: mode, labels: headerLabels, tables: map[string]*csvTable{}}, nil
}

// Path returns the file a table is written to.
func (d *CSV) Path(table string) string {
	return filepath.Join(d.dir, table+".csv")
}

func (d *CSV) headerRow(t *etl.Table) []string {
	if d.labels && len(t.Headers) == len(t.Columns) {
		return t.Headers
	}
	return t.Columns
}

func (d *CSV) WriteHeader(ctx context.Context, t *etl.Table) error {
	if ct, ok := d.tables[t.Name]; ok {
		ct.close()
	}
	ct := &csvTable{path: d.Path(t.Name), columns: append([]string(nil), t.Columns...)}

	existing, rows, err := readCSV(ct.path)
	switch {
	case d.mode == etl.SyncAppend && err == nil:
		if d.labels {
			if !slices.Equal(existing, d.headerRow(t)) {
				return fmt.Errorf("%s: existing header differs", ct.path)
			}
		} else {
			ct.columns = union(existing, t.Columns)
			if len(ct.columns) != len(existing) {
				if err := writeCSV(ct.path, ct.columns, rows); err != nil {
					return err
				}
			}
		}
	case err == nil || errors.Is(err, os.ErrNotExist):
		if err := writeCSV(ct.path, d.headerRow(t), nil); err != nil {
			return err
		}
	default:
		return err
	}

	if err := ct.open(); err != nil {
		return err
	}
	d.tables[t.Name] = ct
	return nil
}

func (d *CSV) WriteRow(ctx context.Context, t *etl.Table, row etl.Row) error {
	ct, ok := d.tables[t.Name]
	if !ok {
		return fmt.Errorf("table %s: no header written", t.Name)
	}
	return ct.w.Write(row.Strings(ct.columns))
}

// ExtendColumns rewrites the file with the wider header; rows already
// written get empty cells.
func (d *CSV) ExtendColumns(ctx context.Context, t *etl.Table, columns []string) error {
	ct, ok := d.tables[t.Name]
	if !ok {
		return fmt.Errorf("table %s: no header written", t.Name)
	}
	if err := ct.close(); err != nil {
		return err
	}
	header, rows, err := readCSV(ct.path)
	if err != nil {
		return err
	}
	ct.columns = append(ct.columns, columns...)
	if err := writeCSV(ct.path, append(header, columns...), rows); err != nil {
		return err
	}
	return ct.open()
}

func (d *CSV) Close() error {
	var errs []error
	for _, ct := range d.tables {
		errs = append(errs, ct.close())
	}
	d.tables = map[string]*csvTable{}
	return errors.Join(errs...)
}

func (ct *csvTable) open() error {
	f, err := os.OpenFile(ct.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", ct.path, err)
	}
	ct.file = f
	ct.w = csv.NewWriter(f)
	return nil
}

func (ct *csvTable) close() error {
	if ct.file == nil {
		return nil
	}
	ct.w.Flush()
	err := ct.w.Error()
	if cerr := ct.file.Close(); err == nil {
		err = cerr
	}
	ct.file, ct.w = nil, nil
	return err
}

// readCSV returns the header and the data rows of a CSV file.
func readCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return header, rows, nil
}

// writeCSV replaces path, padding rows to the header width.
func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	w.Write(header)
	for _, row := range rows {
		for len(row) < len(header) {
			row = append(row, "")
		}
		w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// union keeps base order and appends the new entries of extra.
func union(base, extra []string) []string {
	out := append([]string(nil), base...)
	for _, c := range extra {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}
