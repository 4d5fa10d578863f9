package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ── ExportJob ──────────────────────────────────────────────
// Orchestrates: source.Read → transform chain → processor → driver.
//
// Pattern: Airbyte sync / Singer tap→target pipeline.

// ExportJob holds the stored configuration of an export.
type ExportJob struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	FormPath      string            `json:"formPath"`
	SourceType    string            `json:"sourceType"`
	SourceCfg     SourceConfig      `json:"sourceConfig"`
	Transforms    []TransformConfig `json:"transforms,omitempty"`
	Mode          Mode              `json:"mode"`
	DriverType    string            `json:"driverType"`
	DriverCfg     map[string]any    `json:"driverConfig"`
	SyncMode      SyncMode          `json:"syncMode"`
	DedupeKey     string            `json:"dedupeKey,omitempty"`
	TriggerType   string            `json:"triggerType"`   // "manual" | "schedule" | "file_watch"
	TriggerConfig string            `json:"triggerConfig"` // cron expression or watch path
	Enabled       bool              `json:"enabled"`
	LastRunAt     time.Time         `json:"lastRunAt"`
	LastStatus    string            `json:"lastStatus"` // "success" | "error" | "running" | ""
	LastError     string            `json:"lastError"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// ExportRequest is everything one run needs.
type ExportRequest struct {
	JobID      string
	Layout     *Layout
	Mode       Mode
	SourceType string
	SourceCfg  SourceConfig
	Transforms []TransformConfig
	DedupeKey  string
	// MaxIdentifierLength bounds table names; 0 selects the default.
	MaxIdentifierLength int
}

// ExportResult is the outcome of running an export.
type ExportResult struct {
	RunID       string        `json:"runId"`
	JobID       string        `json:"jobId,omitempty"`
	Mode        Mode          `json:"mode"`
	Status      string        `json:"status"` // "success" | "error"
	RecordsRead int           `json:"recordsRead"`
	RowsWritten int           `json:"rowsWritten"`
	Tables      []string      `json:"tables"`
	Columns     int           `json:"columns"`
	Anomalies   int           `json:"anomalies"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// ExportRunLog is a historical record of an export run.
type ExportRunLog struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	RunID       string    `json:"runId"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Status      string    `json:"status"`
	RecordsRead int       `json:"recordsRead"`
	RowsWritten int       `json:"rowsWritten"`
	Anomalies   int       `json:"anomalies"`
	Error       string    `json:"error,omitempty"`
}

// Recorder receives run statistics. internal/metrics implements it.
type Recorder interface {
	ObserveRun(mode Mode, status string, d time.Duration, recordsRead, rowsWritten int)
	ObserveRows(table string, n int)
	ObserveAnomaly(kind ErrorKind)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRun(Mode, string, time.Duration, int, int) {}
func (nopRecorder) ObserveRows(string, int) {}
func (nopRecorder) ObserveAnomaly(ErrorKind) {}

// ── Engine ─────────────────────────────────────────────────

// Engine runs exports using the registered sources and a driver.
type Engine struct {
	Driver  Driver
	Logger  *slog.Logger
	Metrics Recorder
	// Workers bounds pass-2 parallelism of wide exports. 0 means 4.
	Workers int
	// StreamWide writes wide rows as they are read and grows the header
	// through ColumnExtender instead of scanning all records first.
	StreamWide bool
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) recorder() Recorder {
	if e.Metrics != nil {
		return e.Metrics
	}
	return nopRecorder{}
}

func (e *Engine) workers() int {
	if e.Workers > 0 {
		return e.Workers
	}
	return 4
}

// run carries the per-run state shared by the export strategies.
type run struct {
	req       *ExportRequest
	result    *ExportResult
	log       *slog.Logger
	rows      map[string]int
	mu        sync.Mutex
	anomalies int
}

func (r *run) wrote(table string) {
	r.rows[table]++
	r.result.RowsWritten++
}

// Run executes an export end-to-end. Structural errors are returned before
// the source is read; driver errors abort the run and the result reports the
// rows written so far.
func (e *Engine) Run(ctx context.Context, req *ExportRequest) (*ExportResult, error) {
	start := time.Now()
	mode := req.Mode
	if mode == "" {
		mode = ModeWide
	}
	r := &run{
		req:    req,
		result: &ExportResult{RunID: uuid.New().String(), JobID: req.JobID, Mode: mode},
		rows:   map[string]int{},
	}
	r.log = e.logger().With("run", r.result.RunID, "mode", string(mode))
	rec := e.recorder()

	finish := func(err error) (*ExportResult, error) {
		r.result.Duration = time.Since(start)
		r.result.Anomalies = r.anomalies
		for table, n := range r.rows {
			rec.ObserveRows(table, n)
		}
		if err != nil {
			r.result.Status = "error"
			r.result.Error = err.Error()
			r.log.Error("export failed", "err", err, "records", r.result.RecordsRead, "rows", r.result.RowsWritten)
		} else {
			r.result.Status = "success"
			r.log.Info("export finished", "records", r.result.RecordsRead, "rows", r.result.RowsWritten,
				"tables", len(r.result.Tables), "columns", r.result.Columns, "anomalies", r.anomalies,
				"duration", r.result.Duration)
		}
		rec.ObserveRun(mode, r.result.Status, r.result.Duration, r.result.RecordsRead, r.result.RowsWritten)
		return r.result, err
	}

	if e.Driver == nil {
		return finish(fmt.Errorf("no driver configured"))
	}
	if req.Layout == nil {
		return finish(schemaError("", "no layout"))
	}

	// 1. Resolve source from registry.
	source, err := GetSource(req.SourceType)
	if err != nil {
		return finish(err)
	}

	// 2. Issue table names before reading anything.
	namer, err := NewNamer(req.MaxIdentifierLength)
	if err != nil {
		return finish(err)
	}
	report := AnomalyFunc(func(a Anomaly) {
		r.mu.Lock()
		r.anomalies++
		r.mu.Unlock()
		rec.ObserveAnomaly(a.Kind)
		r.log.Debug("record anomaly", "kind", string(a.Kind), "path", a.Path)
	})
	proc, err := NewProcessor(req.Layout, mode, namer, WithAnomalies(report))
	if err != nil {
		return finish(err)
	}

	// 3. Stream, transform and flatten.
	switch {
	case mode == ModeRelational:
		err = e.runRelational(ctx, r, source, proc)
	case e.StreamWide:
		err = e.runWideStreaming(ctx, r, source, proc)
	default:
		err = e.runWideTwoPass(ctx, r, source, proc, namer)
	}
	return finish(err)
}

func (e *Engine) runRelational(ctx context.Context, r *run, source Source, proc *Processor) error {
	layout := proc.Layout()
	tables := make(map[string]*Table, len(layout.Sections))
	for _, sec := range layout.Sections {
		t := SectionTable(sec, proc.Table(sec.Name))
		if err := e.Driver.WriteHeader(ctx, t); err != nil {
			return driverError(t.Name, err)
		}
		tables[sec.Name] = t
		r.result.Tables = append(r.result.Tables, t.Name)
		r.result.Columns += len(t.Columns)
	}

	return e.read(ctx, r, source, func(rec Record) error {
		res, err := proc.Process(rec)
		if err != nil {
			return err
		}
		for _, sec := range layout.Sections {
			t := tables[sec.Name]
			for _, row := range res.Sections[sec.Name] {
				if err := e.Driver.WriteRow(ctx, t, row); err != nil {
					return driverError(t.Name, err)
				}
				r.wrote(t.Name)
			}
		}
		return nil
	})
}

func (e *Engine) runWideStreaming(ctx context.Context, r *run, source Source, proc *Processor) error {
	layout := proc.Layout()
	name := proc.Table(layout.Root().Name)
	var t *Table

	err := e.read(ctx, r, source, func(rec Record) error {
		res, err := proc.Process(rec)
		if err != nil {
			return err
		}
		switch {
		case t == nil:
			t = WideTable(name, layout.Survey, proc.Columns().Header(layout))
			if err := e.Driver.WriteHeader(ctx, t); err != nil {
				return driverError(name, err)
			}
		case len(res.NewColumns) > 0:
			ext, ok := e.Driver.(ColumnExtender)
			if !ok {
				return driverError(name, fmt.Errorf("driver %T cannot add columns while streaming", e.Driver))
			}
			if err := ext.ExtendColumns(ctx, t, res.NewColumns); err != nil {
				return driverError(name, err)
			}
			t.Columns = append(t.Columns, res.NewColumns...)
			t.Headers = append(t.Headers, res.NewColumns...)
		}
		if err := e.Driver.WriteRow(ctx, t, res.Row); err != nil {
			return driverError(name, err)
		}
		r.wrote(name)
		return nil
	})
	if err != nil {
		return err
	}
	if t == nil {
		t = WideTable(name, layout.Survey, nil)
		if err := e.Driver.WriteHeader(ctx, t); err != nil {
			return driverError(name, err)
		}
	}
	r.result.Tables = []string{name}
	r.result.Columns = len(t.Columns)
	return nil
}

// runWideTwoPass scans every record once to fix the column superset, then
// builds rows in parallel and writes them in record order.
func (e *Engine) runWideTwoPass(ctx context.Context, r *run, source Source, proc *Processor, namer *Namer) error {
	layout := proc.Layout()
	name := proc.Table(layout.Root().Name)

	// Pass 1: sequential column scan.
	var records []Record
	err := e.read(ctx, r, source, func(rec Record) error {
		if _, err := proc.Process(rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return err
	}
	header := proc.Columns().Header(layout)
	r.log.Debug("wide column scan done", "records", len(records), "columns", len(header))

	// Pass 2: rows against the fixed header. Anomalies were reported in pass 1.
	rowProc, err := NewProcessor(layout, ModeWide, namer)
	if err != nil {
		return err
	}
	rows := make([]Row, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := rowProc.Process(records[i])
			if err != nil {
				return err
			}
			rows[i] = res.Row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	t := WideTable(name, layout.Survey, header)
	if err := e.Driver.WriteHeader(ctx, t); err != nil {
		return driverError(name, err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Driver.WriteRow(ctx, t, row); err != nil {
			return driverError(name, err)
		}
		r.wrote(name)
	}
	r.result.Tables = []string{name}
	r.result.Columns = len(header)
	return nil
}

// read drains the source through the transform chain and hands each kept
// record to fn. A sort transform buffers every record first. Cancellation is
// checked between records.
func (e *Engine) read(ctx context.Context, r *run, source Source, fn func(Record) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	recCh, errCh := source.Read(ctx, r.req.SourceCfg)
	defer func() {
		// Let the source goroutine exit if we stopped early.
		go func() {
			for range recCh {
			}
		}()
	}()

	transformers := BuildTransformers(r.req.Transforms, r.req.DedupeKey)
	batch := HasBatchSort(transformers)
	var buffered []Record

	for rec := range recCh {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.result.RecordsRead++
		out, keep := ApplyTransformers(rec, transformers)
		if !keep {
			continue
		}
		if batch {
			buffered = append(buffered, out)
			continue
		}
		if err := fn(out); err != nil {
			return err
		}
	}

	// Check for source errors.
	if err := <-errCh; err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, rec := range ApplyBatchSort(buffered, transformers) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// Preview executes only the source read phase and returns up to maxRows records.
func (e *Engine) Preview(ctx context.Context, sourceType string, cfg SourceConfig, maxRows int) ([]Record, *SourceSchema, error) {
	source, err := GetSource(sourceType)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := source.Read(ctx, cfg)

	var records []Record
	for rec := range recCh {
		records = append(records, rec)
		if len(records) >= maxRows {
			cancel()
			break
		}
	}

	// Drain remaining and check for errors.
	go func() {
		for range recCh {
		}
	}()
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		return records, InferSchema(records), err
	}

	return records, InferSchema(records), nil
}
