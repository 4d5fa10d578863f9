package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveyflat/internal/config"
	"surveyflat/internal/etl"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "surveyflat.db")
	cfg.Log.Level = "error"
	return cfg
}

func TestNewWiresServices(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	jobs, err := a.Exports.ListJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NotEmpty(t, a.Exports.ListSources())

	a.Metrics.ObserveRun(etl.ModeWide, "success", time.Second, 1, 1)
	rec := httptest.NewRecorder()
	a.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "surveyflat_export_runs_total"))
}

func TestServeStopsWithContext(t *testing.T) {
	a, err := New(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, a.Serve(ctx, ServeOptions{}))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Setenv("SURVEYFLAT_LOG_LEVEL", "loud")
	_, err := Open("")
	assert.Error(t, err)
}
