package etl

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource replays the records passed in cfg["records"].
type staticSource struct{}

func (staticSource) Spec() SourceSpec { return SourceSpec{Type: "static_test", Label: "Static"} }

func (staticSource) Discover(ctx context.Context, cfg SourceConfig) (*SourceSchema, error) {
	recs, _ := cfg["records"].([]Record)
	return InferSchema(recs), nil
}

func (staticSource) Read(ctx context.Context, cfg SourceConfig) (<-chan Record, <-chan error) {
	out := make(chan Record)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		recs, _ := cfg["records"].([]Record)
		for _, r := range recs {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
		if msg, ok := cfg["fail"].(string); ok {
			errCh <- errors.New(msg)
		}
	}()
	return out, errCh
}

func init() { RegisterSource(staticSource{}) }

type recordingDriver struct {
	mu      sync.Mutex
	headers map[string]*Table
	rows    map[string][]Row
	order   []string
	failOn  string
	extend  bool
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{headers: map[string]*Table{}, rows: map[string][]Row{}}
}

func (d *recordingDriver) WriteHeader(ctx context.Context, t *Table) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *t
	cp.Columns = append([]string(nil), t.Columns...)
	d.headers[t.Name] = &cp
	d.order = append(d.order, t.Name)
	return nil
}

func (d *recordingDriver) WriteRow(ctx context.Context, t *Table, row Row) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn == t.Name {
		return errors.New("disk full")
	}
	d.rows[t.Name] = append(d.rows[t.Name], row)
	return nil
}

func (d *recordingDriver) Close() error { return nil }

// extendingDriver also grows headers.
type extendingDriver struct{ *recordingDriver }

func (d extendingDriver) ExtendColumns(ctx context.Context, t *Table, cols []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.headers[t.Name]
	h.Columns = append(h.Columns, cols...)
	return nil
}

type countingRecorder struct {
	mu        sync.Mutex
	runs      []string
	anomalies map[ErrorKind]int
}

func (c *countingRecorder) ObserveRun(mode Mode, status string, d time.Duration, read, written int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, string(mode)+":"+status)
}
func (c *countingRecorder) ObserveRows(string, int) {}
func (c *countingRecorder) ObserveAnomaly(k ErrorKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.anomalies == nil {
		c.anomalies = map[ErrorKind]int{}
	}
	c.anomalies[k]++
}

func sampleRecords(t *testing.T) []Record {
	return []Record{
		mustRecord(t, householdRecord),
		mustRecord(t, `{"_uuid":"2","name":"Eve","gps":"bad","browser_use":[{"browser_use/year":"2011"},{"browser_use/year":"2012"},{"browser_use/year":"2013"}]}`),
		mustRecord(t, `{"_uuid":"3","name":"Seth"}`),
	}
}

func TestEngineRelational(t *testing.T) {
	d := newRecordingDriver()
	rec := &countingRecorder{}
	e := &Engine{Driver: d, Metrics: rec}

	res, err := e.Run(context.Background(), &ExportRequest{
		Layout:     mustLayout(t),
		Mode:       ModeRelational,
		SourceType: "static_test",
		SourceCfg:  SourceConfig{"records": sampleRecords(t)},
	})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, 3, res.RecordsRead)
	assert.Equal(t, []string{"household", "kids_details", "kids_immunization", "browser_use"}, d.order)
	assert.Equal(t, d.order, res.Tables)

	assert.Len(t, d.rows["household"], 3)
	assert.Len(t, d.rows["kids_details"], 2)
	assert.Len(t, d.rows["kids_immunization"], 2)
	assert.Len(t, d.rows["browser_use"], 3)
	assert.Equal(t, 10, res.RowsWritten)

	assert.Equal(t, []string{"relational:success"}, rec.runs)
	assert.Equal(t, 1, rec.anomalies[KindMalformedCompositeValue])
	assert.Equal(t, 1, rec.anomalies[KindUnknownFieldDropped])
}

func TestEngineWideTwoPassMatchesStreaming(t *testing.T) {
	req := func() *ExportRequest {
		return &ExportRequest{
			Layout:     mustLayout(t),
			Mode:       ModeWide,
			SourceType: "static_test",
			SourceCfg:  SourceConfig{"records": sampleRecords(t)},
		}
	}

	twoPass := newRecordingDriver()
	res, err := (&Engine{Driver: twoPass, Workers: 2}).Run(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsWritten)
	assert.Equal(t, []string{"household"}, res.Tables)

	streamed := extendingDriver{newRecordingDriver()}
	_, err = (&Engine{Driver: streamed, StreamWide: true}).Run(context.Background(), req())
	require.NoError(t, err)

	assert.Equal(t, twoPass.rows["household"], streamed.rows["household"])
	assert.ElementsMatch(t, twoPass.headers["household"].Columns, streamed.headers["household"].Columns)

	header := twoPass.headers["household"].Columns
	assert.Contains(t, header, "browser_use[3]/year")
	assert.Contains(t, header, "kids/kids_details[1]/kids_immunization[2]/immunization_info")
	assert.Equal(t, "name", header[0])
}

func TestEngineStreamingNeedsExtender(t *testing.T) {
	_, err := (&Engine{Driver: newRecordingDriver(), StreamWide: true}).Run(context.Background(), &ExportRequest{
		Layout:     mustLayout(t),
		SourceType: "static_test",
		SourceCfg:  SourceConfig{"records": sampleRecords(t)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriverWriteFailure)
}

func TestEngineDriverFailure(t *testing.T) {
	d := newRecordingDriver()
	d.failOn = "kids_details"
	res, err := (&Engine{Driver: d}).Run(context.Background(), &ExportRequest{
		Layout:     mustLayout(t),
		Mode:       ModeRelational,
		SourceType: "static_test",
		SourceCfg:  SourceConfig{"records": sampleRecords(t)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDriverWriteFailure)
	assert.Equal(t, "error", res.Status)
	assert.Equal(t, 1, res.RowsWritten)
}

func TestEngineSourceError(t *testing.T) {
	res, err := (&Engine{Driver: newRecordingDriver()}).Run(context.Background(), &ExportRequest{
		Layout:     mustLayout(t),
		SourceType: "static_test",
		SourceCfg:  SourceConfig{"fail": "cursor lost"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cursor lost")
	assert.Equal(t, "error", res.Status)
}

func TestEngineUnknownSource(t *testing.T) {
	_, err := (&Engine{Driver: newRecordingDriver()}).Run(context.Background(), &ExportRequest{
		Layout:     mustLayout(t),
		SourceType: "nope",
	})
	assert.Error(t, err)
}

func TestEngineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Engine{Driver: newRecordingDriver()}).Run(ctx, &ExportRequest{
		Layout:     mustLayout(t),
		Mode:       ModeRelational,
		SourceType: "static_test",
		SourceCfg:  SourceConfig{"records": sampleRecords(t)},
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnginePreview(t *testing.T) {
	recs, schema, err := (&Engine{}).Preview(context.Background(), "static_test",
		SourceConfig{"records": sampleRecords(t)}, 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	require.NotEmpty(t, schema.Fields)
	assert.Equal(t, "_id", schema.Fields[0].Name)
}
