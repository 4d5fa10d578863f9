package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflat/internal/etl"
	"surveyflat/internal/service"
	"surveyflat/internal/storage"
)

const householdForm = "../form/testdata/household.yaml"

const submissions = `[
	{"_id": 1, "_uuid": "u1", "name": "Adam", "age": "80",
	 "kids/kids_details": [{"kids/kids_details/kids_name": "Abel"}]},
	{"_id": 2, "_uuid": "u2", "name": "Eve", "age": "78"}
]`

type env struct {
	dir   string
	cfg   string
	input string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	e := &env{
		dir:   dir,
		cfg:   filepath.Join(dir, "surveyflat.yaml"),
		input: filepath.Join(dir, "submissions.json"),
	}
	cfg := "storage:\n  db_path: " + filepath.Join(dir, "jobs.db") + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(e.cfg, []byte(cfg), 0o644))
	require.NoError(t, os.WriteFile(e.input, []byte(submissions), 0o644))
	return e
}

// run executes the command tree and returns stdout.
func (e *env) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.cfg}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := newEnv(t).run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "surveyflat "+Version)
}

func TestLayoutText(t *testing.T) {
	out, err := newEnv(t).run(t, "layout", householdForm, "--columns")
	require.NoError(t, err)
	assert.Contains(t, out, "TABLE")
	assert.Contains(t, out, "kids_immunization")
	assert.Contains(t, out, "browser_use:")
}

func TestLayoutJSON(t *testing.T) {
	out, err := newEnv(t).run(t, "-o", "json", "layout", householdForm)
	require.NoError(t, err)

	var desc service.LayoutDescription
	require.NoError(t, json.Unmarshal([]byte(out), &desc))
	var tables []string
	for _, tbl := range desc.Tables {
		tables = append(tables, tbl.Table)
	}
	assert.Equal(t, []string{"household", "kids_details", "kids_immunization", "browser_use"}, tables)
}

func TestExportToCSV(t *testing.T) {
	e := newEnv(t)
	outDir := filepath.Join(e.dir, "out")

	out, err := e.run(t, "-o", "json", "export", "-f", householdForm, "-i", e.input, "--out", outDir)
	require.NoError(t, err)

	var res etl.ExportResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, etl.ModeWide, res.Mode)
	assert.Equal(t, 2, res.RecordsRead)
	assert.Equal(t, []string{"household"}, res.Tables)

	data, err := os.ReadFile(filepath.Join(outDir, "household.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "kids/kids_details[1]/kids_name")
	assert.Contains(t, string(data), "Abel")
}

func TestExportRejectsBadFlags(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "export", "-f", householdForm, "--source-config", "{not json")
	assert.ErrorContains(t, err, "--source-config")

	_, err = e.run(t, "export", "-f", householdForm, "-i", e.input, "--mode", "sideways")
	assert.Error(t, err)

	_, err = e.run(t, "export", "-i", e.input)
	assert.Error(t, err)
}

func TestJobsLifecycle(t *testing.T) {
	e := newEnv(t)
	outDir := filepath.Join(e.dir, "jobs-out")

	_, err := e.run(t, "jobs", "create", "--name", "nightly", "-f", householdForm,
		"-i", e.input, "-m", "relational", "--out", outDir)
	require.NoError(t, err)

	out, err := e.run(t, "-o", "json", "jobs", "list")
	require.NoError(t, err)
	var jobs []etl.ExportJob
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "nightly", job.Name)
	assert.Equal(t, etl.ModeRelational, job.Mode)

	out, err = e.run(t, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "nightly")

	out, err = e.run(t, "jobs", "run", job.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "success: 2 records read")
	assert.FileExists(t, filepath.Join(outDir, "household.csv"))
	assert.FileExists(t, filepath.Join(outDir, "kids_details.csv"))

	out, err = e.run(t, "-o", "json", "jobs", "logs", job.ID)
	require.NoError(t, err)
	var logs []etl.ExportRunLog
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)

	_, err = e.run(t, "jobs", "delete", job.ID)
	require.NoError(t, err)
	_, err = e.run(t, "jobs", "run", job.ID)
	assert.Error(t, err)
}

func TestApprovals(t *testing.T) {
	e := newEnv(t)

	g := &globalFlags{cfgFile: e.cfg}
	a, err := g.open()
	require.NoError(t, err)
	require.NoError(t, a.Approvals.Create(&storage.Approval{ID: "req-1", Tool: "run_job", Description: "run nightly"}))
	require.NoError(t, a.Close())

	out, err := e.run(t, "approvals", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "req-1")

	out, err = e.run(t, "approvals", "approve", "req-1")
	require.NoError(t, err)
	assert.Contains(t, out, "approved req-1")

	_, err = e.run(t, "approvals", "reject", "req-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUnknownOutputFormat(t *testing.T) {
	_, err := newEnv(t).run(t, "-o", "xml", "layout", householdForm)
	assert.ErrorContains(t, err, "unknown output format")
}
