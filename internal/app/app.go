// Package app wires configuration, storage and services into a running
// surveyflat instance shared by every CLI command.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"surveyflat/internal/config"
	"surveyflat/internal/etl/sources"
	"surveyflat/internal/logging"
	"surveyflat/internal/metrics"
	"surveyflat/internal/secret"
	"surveyflat/internal/service"
	"surveyflat/internal/storage"
)

// App holds the opened stores and services.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *storage.DB
	Jobs      *storage.ExportStore
	Approvals *storage.ApprovalStore
	Secrets   secret.Store
	Metrics   *metrics.Collector
	Exports   *service.ExportService
}

// Open loads the configuration at cfgPath, opens the job database and builds
// the export service. Close releases everything.
func Open(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New builds an App from an already loaded configuration.
func New(cfg *config.Config) (*App, error) {
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	db, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.DBPath, err)
	}

	a := &App{
		Config:    cfg,
		Logger:    log,
		DB:        db,
		Jobs:      storage.NewExportStore(db),
		Approvals: storage.NewApprovalStore(db),
		Secrets:   secret.Default(),
		Metrics:   metrics.NewCollector(cfg.Metrics.Namespace),
	}
	// Database and mongodb sources resolve passwords through the same store.
	sources.SetSecretStore(a.Secrets)

	a.Exports = service.NewExportService(a.Jobs, logEmitter{log: log}, service.Options{
		Export:  cfg.Export,
		Secrets: a.Secrets,
		Metrics: a.Metrics,
		Logger:  log,
	})
	return a, nil
}

// Close stops triggers and closes the database.
func (a *App) Close() error {
	a.Exports.Stop()
	return a.DB.Close()
}

// logEmitter writes service events to the log. The CLI has no other front end.
type logEmitter struct {
	log *slog.Logger
}

func (e logEmitter) Emit(_ context.Context, event string, data any) {
	e.log.Info("event", "name", event, "data", data)
}
