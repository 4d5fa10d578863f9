package drivers

import (
	"context"
	"fmt"
	"sync"

	"surveyflat/internal/etl"
)

// MemoryTable is a table held by the Memory driver.
type MemoryTable struct {
	Name    string    `json:"name"`
	Section string    `json:"section"`
	Columns []string  `json:"columns"`
	Headers []string  `json:"headers"`
	Rows    []etl.Row `json:"rows"`
}

// Strings renders the rows in column order.
func (t *MemoryTable) Strings() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Strings(t.Columns)
	}
	return out
}

// Memory keeps exported tables in memory. Used for previews and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string]*MemoryTable
	order  []string
}

// NewMemory creates an empty Memory driver.
func NewMemory() *Memory {
	return &Memory{tables: map[string]*MemoryTable{}}
}

func (m *Memory) WriteHeader(ctx context.Context, t *etl.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[t.Name]; !ok {
		m.order = append(m.order, t.Name)
	}
	m.tables[t.Name] = &MemoryTable{
		Name:    t.Name,
		Section: t.Section,
		Columns: append([]string(nil), t.Columns...),
		Headers: append([]string(nil), t.Headers...),
	}
	return nil
}

func (m *Memory) WriteRow(ctx context.Context, t *etl.Table, row etl.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.tables[t.Name]
	if !ok {
		return fmt.Errorf("table %s: no header written", t.Name)
	}
	cp := make(etl.Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	mt.Rows = append(mt.Rows, cp)
	return nil
}

func (m *Memory) ExtendColumns(ctx context.Context, t *etl.Table, columns []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.tables[t.Name]
	if !ok {
		return fmt.Errorf("table %s: no header written", t.Name)
	}
	mt.Columns = append(mt.Columns, columns...)
	mt.Headers = append(mt.Headers, columns...)
	return nil
}

func (m *Memory) Close() error { return nil }

// Table returns a table by name.
func (m *Memory) Table(name string) (*MemoryTable, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[name]
	return t, ok
}

// Tables returns the tables in the order their headers were written.
func (m *Memory) Tables() []*MemoryTable {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MemoryTable, len(m.order))
	for i, name := range m.order {
		out[i] = m.tables[name]
	}
	return out
}
