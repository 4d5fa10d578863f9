package service_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"surveyflat/internal/config"
	"surveyflat/internal/etl"
	"surveyflat/internal/secret"
	"surveyflat/internal/service"
	"surveyflat/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// ExportService tests
// Run against a temp SQLite job store, a JSON submissions file and
// the household form from internal/form/testdata.
// ─────────────────────────────────────────────────────────────

const householdForm = "../form/testdata/household.yaml"

const submissions = `[
	{"_id": 1, "_uuid": "u1", "name": "Adam", "age": "80", "web_browsers": "chrome ie",
	 "kids/has_kids": "1",
	 "kids/kids_details": [
		{"kids/kids_details/kids_name": "Abel", "kids/kids_details/kids_age": "50"},
		{"kids/kids_details/kids_name": "Cain", "kids/kids_details/kids_age": "76"}
	 ]},
	{"_id": 2, "_uuid": "u2", "name": "Eve", "age": "78",
	 "browser_use": [{"browser_use/year": "2011", "browser_use/browsers": "safari"}]}
]`

type fixture struct {
	svc     *service.ExportService
	emitter *service.MockEmitter
	dir     string
	input   service.ExportInput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.New(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	data := filepath.Join(dir, "submissions.json")
	if err := os.WriteFile(data, []byte(submissions), 0o644); err != nil {
		t.Fatal(err)
	}

	emitter := &service.MockEmitter{}
	svc := service.NewExportService(storage.NewExportStore(db), emitter, service.Options{
		Export:  config.Default().Export,
		Secrets: secret.NewEnvStore(),
	})
	t.Cleanup(svc.Stop)

	return &fixture{
		svc:     svc,
		emitter: emitter,
		dir:     dir,
		input: service.ExportInput{
			Name:         "household relational",
			FormPath:     householdForm,
			SourceType:   "json_file",
			SourceConfig: map[string]any{"filePath": data},
			Mode:         "relational",
			DriverType:   "csv",
			DriverConfig: map[string]any{"dir": filepath.Join(dir, "out")},
		},
	}
}

func TestExportService_CreateJobValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := []func(in *service.ExportInput){
		func(in *service.ExportInput) { in.FormPath = "" },
		func(in *service.ExportInput) { in.SourceType = "ftp" },
		func(in *service.ExportInput) { in.DriverType = "xlsx" },
		func(in *service.ExportInput) { in.Mode = "sideways" },
		func(in *service.ExportInput) { in.SyncMode = "merge" },
		func(in *service.ExportInput) { in.TriggerType = "webhook" },
		func(in *service.ExportInput) { in.TriggerType, in.TriggerConfig = service.TriggerSchedule, "every day" },
	}
	for i, mutate := range bad {
		in := f.input
		mutate(&in)
		if _, err := f.svc.CreateJob(ctx, in); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	job, err := f.svc.CreateJob(ctx, f.input)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID == "" || job.SyncMode != etl.SyncReplace || job.TriggerType != service.TriggerManual {
		t.Fatalf("defaults not applied: %+v", job)
	}
	jobs, err := f.svc.ListJobs()
	if err != nil || len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d (%v)", len(jobs), err)
	}
}

func TestExportService_RunJobWritesTables(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, f.input)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	res, err := f.svc.RunJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunJob: %v", err)
	}
	if res.Status != "success" || res.RecordsRead != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// 2 household rows, 2 kids, 1 browser_use; kids_immunization is header only.
	if res.RowsWritten != 5 {
		t.Errorf("expected 5 rows written, got %d", res.RowsWritten)
	}

	for _, table := range []string{"household", "kids_details", "kids_immunization", "browser_use"} {
		if _, err := os.Stat(filepath.Join(f.dir, "out", table+".csv")); err != nil {
			t.Errorf("missing table %s: %v", table, err)
		}
	}
	kids, err := os.ReadFile(filepath.Join(f.dir, "out", "kids_details.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(kids), "Cain") {
		t.Errorf("kids_details.csv lacks Cain:\n%s", kids)
	}

	stored, err := f.svc.GetJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastStatus != "success" {
		t.Errorf("expected last status success, got %q", stored.LastStatus)
	}
	logs, err := f.svc.ListRunLogs(job.ID, 0)
	if err != nil || len(logs) != 1 {
		t.Fatalf("expected 1 run log, got %d (%v)", len(logs), err)
	}
	if logs[0].RunID != res.RunID || logs[0].RowsWritten != 5 {
		t.Errorf("run log does not match result: %+v", logs[0])
	}

	events := f.emitter.Snapshot()
	if len(events) != 1 || events[0].Event != "export:completed" {
		t.Fatalf("expected one export:completed event, got %+v", events)
	}
}

func TestExportService_RunJobRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input
	in.SourceConfig = map[string]any{"filePath": filepath.Join(f.dir, "missing.json")}
	job, err := f.svc.CreateJob(ctx, in)
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	res, err := f.svc.RunJob(ctx, job.ID)
	if err == nil {
		t.Fatal("expected run error")
	}
	if res == nil || res.Status != "error" {
		t.Fatalf("expected error result, got %+v", res)
	}
	stored, _ := f.svc.GetJob(job.ID)
	if stored.LastStatus != "error" || stored.LastError == "" {
		t.Errorf("job status not recorded: %+v", stored)
	}
}

func TestExportService_UpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateJob(ctx, f.input)
	if err != nil {
		t.Fatal(err)
	}
	in := f.input
	in.Name = "renamed"
	in.Mode = "wide"
	if err := f.svc.UpdateJob(ctx, job.ID, in); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	got, _ := f.svc.GetJob(job.ID)
	if got.Name != "renamed" || got.Mode != etl.ModeWide {
		t.Errorf("update not applied: %+v", got)
	}

	if err := f.svc.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := f.svc.GetJob(job.ID); err == nil {
		t.Error("expected deleted job to be gone")
	}
	if err := f.svc.UpdateJob(ctx, job.ID, in); err == nil {
		t.Error("expected update of deleted job to fail")
	}
}

func TestExportService_PreviewExport(t *testing.T) {
	f := newFixture(t)
	in := f.input
	in.Mode = "wide"

	res, mem, err := f.svc.PreviewExport(context.Background(), in, 1)
	if err != nil {
		t.Fatalf("PreviewExport: %v", err)
	}
	if res.RowsWritten != 1 {
		t.Errorf("expected 1 row, got %d", res.RowsWritten)
	}
	tables := mem.Tables()
	if len(tables) != 1 || tables[0].Name != "household" {
		t.Fatalf("expected one household table, got %+v", tables)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "out")); !os.IsNotExist(err) {
		t.Error("preview must not write the configured driver")
	}
}

func TestExportService_DescribeLayout(t *testing.T) {
	f := newFixture(t)
	desc, err := f.svc.DescribeLayout(householdForm)
	if err != nil {
		t.Fatalf("DescribeLayout: %v", err)
	}
	if desc.Survey != "household" {
		t.Errorf("survey = %q", desc.Survey)
	}
	var names []string
	for _, tb := range desc.Tables {
		names = append(names, tb.Table)
	}
	if strings.Join(names, ",") != "household,kids_details,kids_immunization,browser_use" {
		t.Errorf("unexpected tables %v", names)
	}
	if desc.Tables[2].Parent != "kids_details" {
		t.Errorf("kids_immunization parent = %q", desc.Tables[2].Parent)
	}
}

func TestExportService_PreviewSource(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.PreviewSource(context.Background(), "json_file", etl.SourceConfig(f.input.SourceConfig), 1)
	if err != nil {
		t.Fatalf("PreviewSource: %v", err)
	}
	if len(res.Records) != 1 || len(res.Schema.Fields) == 0 {
		t.Errorf("unexpected preview %+v", res)
	}
	if _, err := f.svc.DiscoverSchema(context.Background(), "nope", nil); err == nil {
		t.Error("expected unknown source error")
	}
}

func TestExportService_FileWatchTriggersRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := f.input
	in.TriggerType = service.TriggerFileWatch
	in.Enabled = true
	job, err := f.svc.CreateJob(ctx, in)
	if err != nil {
		t.Fatal(err)
	}

	data := f.input.SourceConfig["filePath"].(string)
	if err := os.WriteFile(data, []byte(submissions), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		logs, _ := f.svc.ListRunLogs(job.ID, 1)
		if len(logs) == 1 {
			if logs[0].Status != "success" {
				t.Fatalf("watch-triggered run failed: %+v", logs[0])
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("file change did not trigger a run")
}

func TestExportService_NilStore(t *testing.T) {
	// Stop and WaitRunning are safe before anything started.
	svc := service.NewExportService(nil, nil, service.Options{})
	svc.RestartWatchers(context.Background())
	svc.Stop()
	svc.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	svc.WaitRunning(ctx)
	if len(svc.RunningJobs()) != 0 {
		t.Fatal("expected no running jobs")
	}
}
