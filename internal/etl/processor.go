package etl

import "fmt"

// Row is one flat output row keyed by column path. Missing columns render empty.
type Row map[string]any

// Values returns the row's values aligned with cols.
func (r Row) Values(cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}

// Strings returns the row rendered for text output, aligned with cols.
func (r Row) Strings(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = FormatScalar(r[c])
	}
	return out
}

// Mode selects the output shape.
type Mode string

const (
	ModeRelational Mode = "relational"
	ModeWide       Mode = "wide"
)

// ParseMode validates a mode name; empty selects wide.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeWide:
		return ModeWide, nil
	case ModeRelational:
		return ModeRelational, nil
	default:
		return "", fmt.Errorf("unknown export mode %q", s)
	}
}

// Result is the outcome of processing one record.
type Result struct {
	// Sections holds relational rows keyed by section name.
	Sections map[string][]Row
	// Row and NewColumns are set in wide mode.
	Row        Row
	NewColumns []string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithAnomalies routes non-fatal data problems to fn.
func WithAnomalies(fn AnomalyFunc) ProcessorOption {
	return func(p *Processor) { p.report = fn }
}

// WithColumnSet shares a column set with the wide flattener.
func WithColumnSet(cs *ColumnSet) ProcessorOption {
	return func(p *Processor) { p.columns = cs }
}

// Processor runs the expanders and the flattener for one mode over a stream
// of records. Table identifiers are issued up front so a name-space problem
// surfaces before any record is read.
type Processor struct {
	layout  *Layout
	mode    Mode
	tables  map[string]string
	columns *ColumnSet
	report  AnomalyFunc

	selectMultiples map[string][]string
	gps             []string

	relational *RelationalFlattener
	wide       *WideFlattener
}

// NewProcessor prepares a processor for layout.
func NewProcessor(layout *Layout, mode Mode, namer *Namer, opts ...ProcessorOption) (*Processor, error) {
	if layout == nil {
		return nil, schemaError("", "no layout")
	}
	if namer == nil {
		var err error
		if namer, err = NewNamer(0); err != nil {
			return nil, err
		}
	}
	p := &Processor{
		layout:          layout,
		mode:            mode,
		selectMultiples: layout.SelectMultiples(),
		gps:             layout.GPSFields(),
	}
	for _, opt := range opts {
		opt(p)
	}

	switch mode {
	case ModeRelational:
		tables, err := namer.ResolveLayout(layout)
		if err != nil {
			return nil, err
		}
		p.tables = tables
		p.relational = NewRelationalFlattener(layout, tables)
		p.relational.Report = p.report
	case ModeWide:
		id, err := namer.Resolve(layout.Root().Table)
		if err != nil {
			return nil, err
		}
		p.tables = map[string]string{layout.Root().Name: id}
		p.wide = NewWideFlattener(layout, p.columns)
		p.wide.Report = p.report
		p.columns = p.wide.Columns()
	default:
		return nil, fmt.Errorf("unknown export mode %q", mode)
	}
	return p, nil
}

func (p *Processor) Mode() Mode { return p.mode }
func (p *Processor) Layout() *Layout { return p.layout }
func (p *Processor) Columns() *ColumnSet { return p.columns }

// Table returns the identifier issued for a section.
func (p *Processor) Table(section string) string { return p.tables[section] }

// Tables returns section name → identifier for every table this run writes.
func (p *Processor) Tables() map[string]string {
	out := make(map[string]string, len(p.tables))
	for k, v := range p.tables {
		out[k] = v
	}
	return out
}

// Expand runs both field expanders once.
func (p *Processor) Expand(rec Record) Record {
	rec = ExpandSelectMultiples(rec, p.selectMultiples)
	return expandGPS(rec, p.gps, p.report)
}

// Process expands and flattens one record.
func (p *Processor) Process(rec Record) (*Result, error) {
	expanded := p.Expand(rec)
	switch p.mode {
	case ModeRelational:
		sections, err := p.relational.Flatten(expanded)
		if err != nil {
			return nil, err
		}
		return &Result{Sections: sections}, nil
	default:
		row, added := p.wide.Flatten(expanded)
		return &Result{Row: row, NewColumns: added}, nil
	}
}
