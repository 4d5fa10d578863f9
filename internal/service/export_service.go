package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"surveyflat/internal/config"
	"surveyflat/internal/etl"
	"surveyflat/internal/etl/drivers"
	_ "surveyflat/internal/etl/sources"
	"surveyflat/internal/form"
	"surveyflat/internal/secret"
	"surveyflat/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// Export Service — business logic for survey export jobs
// ─────────────────────────────────────────────────────────────

const (
	runTimeout      = 30 * time.Minute
	previewTimeout  = 30 * time.Second
	discoverTimeout = 15 * time.Second
	watchDebounce   = 500 * time.Millisecond
)

// Trigger types of an export job.
const (
	TriggerManual    = "manual"
	TriggerSchedule  = "schedule"
	TriggerFileWatch = "file_watch"
)

// Options configures an ExportService. Zero values select defaults.
type Options struct {
	Export  config.ExportConfig
	Secrets secret.Store
	Metrics etl.Recorder
	Logger  *slog.Logger
}

// ExportService manages export jobs, runs them, and keeps the cron schedule
// and file watchers in sync with the stored jobs.
type ExportService struct {
	store       *storage.ExportStore
	emitter     EventEmitter
	opts        Options
	log         *slog.Logger
	runningJobs runningJobsGuard

	// watcher / cron lifecycle
	mu          sync.Mutex
	watchCancel context.CancelFunc
	watcher     *fsnotify.Watcher
	cronSched   *cron.Cron
}

// NewExportService creates an ExportService ready for use.
func NewExportService(store *storage.ExportStore, emitter EventEmitter, opts Options) *ExportService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Secrets == nil {
		opts.Secrets = secret.Default()
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &ExportService{
		store:   store,
		emitter: emitter,
		opts:    opts,
		log:     opts.Logger,
	}
}

// ── Job CRUD ───────────────────────────────────────────────

// ExportInput describes one export: the form, where submissions come from,
// how they are flattened and where the tables go.
type ExportInput struct {
	Name          string                `json:"name"`
	FormPath      string                `json:"formPath"`
	SourceType    string                `json:"sourceType"`
	SourceConfig  map[string]any        `json:"sourceConfig"`
	Transforms    []etl.TransformConfig `json:"transforms,omitempty"`
	Mode          string                `json:"mode"`
	DriverType    string                `json:"driverType"`
	DriverConfig  map[string]any        `json:"driverConfig"`
	SyncMode      string                `json:"syncMode"`
	DedupeKey     string                `json:"dedupeKey,omitempty"`
	TriggerType   string                `json:"triggerType"`
	TriggerConfig string                `json:"triggerConfig"`
	Enabled       bool                  `json:"enabled"`
}

// job validates the input and converts it to a job with defaults applied.
func (in ExportInput) job() (*etl.ExportJob, error) {
	if in.FormPath == "" {
		return nil, errors.New("form path is required")
	}
	if _, err := etl.GetSource(in.SourceType); err != nil {
		return nil, err
	}
	mode, err := etl.ParseMode(in.Mode)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(drivers.Types(), in.DriverType) {
		return nil, fmt.Errorf("unknown driver type: %q", in.DriverType)
	}
	job := &etl.ExportJob{
		Name:          in.Name,
		FormPath:      in.FormPath,
		SourceType:    in.SourceType,
		SourceCfg:     in.SourceConfig,
		Transforms:    in.Transforms,
		Mode:          mode,
		DriverType:    in.DriverType,
		DriverCfg:     in.DriverConfig,
		SyncMode:      etl.SyncMode(in.SyncMode),
		DedupeKey:     in.DedupeKey,
		TriggerType:   in.TriggerType,
		TriggerConfig: in.TriggerConfig,
		Enabled:       in.Enabled,
	}
	switch job.SyncMode {
	case "":
		job.SyncMode = etl.SyncReplace
	case etl.SyncReplace, etl.SyncAppend:
	default:
		return nil, fmt.Errorf("unknown sync mode: %q", in.SyncMode)
	}
	switch job.TriggerType {
	case "":
		job.TriggerType = TriggerManual
	case TriggerManual, TriggerFileWatch:
	case TriggerSchedule:
		if _, err := cron.ParseStandard(job.TriggerConfig); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", job.TriggerConfig, err)
		}
	default:
		return nil, fmt.Errorf("unknown trigger type: %q", in.TriggerType)
	}
	if job.Name == "" {
		job.Name = filepath.Base(in.FormPath)
	}
	return job, nil
}

func (s *ExportService) CreateJob(ctx context.Context, input ExportInput) (*etl.ExportJob, error) {
	job, err := input.job()
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}
	s.RestartWatchers(ctx)
	return job, nil
}

func (s *ExportService) GetJob(id string) (*etl.ExportJob, error) {
	return s.store.GetJob(id)
}

func (s *ExportService) ListJobs() ([]etl.ExportJob, error) {
	return s.store.ListJobs()
}

func (s *ExportService) UpdateJob(ctx context.Context, id string, input ExportInput) error {
	existing, err := s.store.GetJob(id)
	if err != nil {
		return err
	}
	job, err := input.job()
	if err != nil {
		return err
	}
	job.ID = existing.ID
	job.CreatedAt = existing.CreatedAt
	job.LastRunAt = existing.LastRunAt
	job.LastStatus = existing.LastStatus
	job.LastError = existing.LastError

	if err := s.store.UpdateJob(job); err != nil {
		return err
	}
	s.RestartWatchers(ctx)
	return nil
}

func (s *ExportService) DeleteJob(ctx context.Context, id string) error {
	err := s.store.DeleteJob(id)
	if err == nil {
		s.RestartWatchers(ctx)
	}
	return err
}

// ── Run ────────────────────────────────────────────────────

// RunJob executes a stored job synchronously, records a run log and emits
// "export:completed".
func (s *ExportService) RunJob(ctx context.Context, id string) (*etl.ExportResult, error) {
	// Prevent concurrent execution of the same job.
	if !s.runningJobs.TryLock(id) {
		return nil, fmt.Errorf("job %s is already running", id)
	}
	defer s.runningJobs.Unlock(id)

	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateJobStatus(id, "running", ""); err != nil {
		s.log.Warn("export: failed to mark job running", "job", id, "err", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	result, runErr := s.export(runCtx, job)

	runLog := &etl.ExportRunLog{
		JobID:       id,
		RunID:       result.RunID,
		StartedAt:   start,
		FinishedAt:  time.Now(),
		Status:      result.Status,
		RecordsRead: result.RecordsRead,
		RowsWritten: result.RowsWritten,
		Anomalies:   result.Anomalies,
		Error:       result.Error,
	}
	if err := s.store.CreateRunLog(runLog); err != nil {
		s.log.Warn("export: failed to write run log", "job", id, "err", err)
	}
	if err := s.store.UpdateJobStatus(id, result.Status, result.Error); err != nil {
		s.log.Warn("export: failed to update job status", "job", id, "err", err)
	}

	s.emitter.Emit(ctx, "export:completed", map[string]any{
		"jobId":  id,
		"runId":  result.RunID,
		"status": result.Status,
		"rows":   result.RowsWritten,
	})
	return result, runErr
}

// Export runs an ad hoc export that is not stored as a job.
func (s *ExportService) Export(ctx context.Context, input ExportInput) (*etl.ExportResult, error) {
	job, err := input.job()
	if err != nil {
		return nil, err
	}
	return s.export(ctx, job)
}

// PreviewExport flattens at most limit records into memory tables.
func (s *ExportService) PreviewExport(ctx context.Context, input ExportInput, limit int) (*etl.ExportResult, *drivers.Memory, error) {
	input.DriverType = "memory"
	input.DriverConfig = nil
	job, err := input.job()
	if err != nil {
		return nil, nil, err
	}
	if limit > 0 {
		job.Transforms = append(append([]etl.TransformConfig(nil), job.Transforms...),
			etl.TransformConfig{Type: "limit", Config: map[string]any{"count": float64(limit)}})
	}
	layout, err := s.LoadLayout(job.FormPath)
	if err != nil {
		return nil, nil, err
	}
	mem := drivers.NewMemory()

	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()
	res, err := s.engine(mem).Run(ctx, s.request(job, layout))
	return res, mem, err
}

// export resolves the form and driver of job and runs the engine. The
// returned result is never nil.
func (s *ExportService) export(ctx context.Context, job *etl.ExportJob) (*etl.ExportResult, error) {
	fail := func(err error) (*etl.ExportResult, error) {
		return &etl.ExportResult{JobID: job.ID, Mode: job.Mode, Status: "error", Error: err.Error()}, err
	}

	layout, err := s.LoadLayout(job.FormPath)
	if err != nil {
		return fail(err)
	}
	driver, err := drivers.Open(job.DriverType, drivers.Config(job.DriverCfg), job.SyncMode, s.opts.Secrets)
	if err != nil {
		return fail(err)
	}

	result, runErr := s.engine(driver).Run(ctx, s.request(job, layout))
	if err := driver.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close %s driver: %w", job.DriverType, err)
		result.Status = "error"
		result.Error = runErr.Error()
	}
	return result, runErr
}

func (s *ExportService) engine(driver etl.Driver) *etl.Engine {
	return &etl.Engine{
		Driver:     driver,
		Logger:     s.log,
		Metrics:    s.opts.Metrics,
		Workers:    s.opts.Export.Workers,
		StreamWide: s.opts.Export.StreamWide,
	}
}

func (s *ExportService) request(job *etl.ExportJob, layout *etl.Layout) *etl.ExportRequest {
	return &etl.ExportRequest{
		JobID:               job.ID,
		Layout:              layout,
		Mode:                job.Mode,
		SourceType:          job.SourceType,
		SourceCfg:           job.SourceCfg,
		Transforms:          job.Transforms,
		DedupeKey:           job.DedupeKey,
		MaxIdentifierLength: s.opts.Export.MaxIdentifierLength,
	}
}

// ListSources returns the available source descriptors.
func (s *ExportService) ListSources() []etl.SourceSpec {
	return etl.ListSources()
}

// ListRunLogs returns the most recent run logs for a job.
func (s *ExportService) ListRunLogs(jobID string, limit int) ([]etl.ExportRunLog, error) {
	return s.store.ListRunLogs(jobID, limit)
}

// ── Layout ─────────────────────────────────────────────────

// LoadLayout reads a form definition and builds its section layout.
func (s *ExportService) LoadLayout(formPath string) (*etl.Layout, error) {
	root, err := form.Load(formPath)
	if err != nil {
		return nil, err
	}
	return etl.BuildLayout(root, etl.WithSplitSelectMultiples(s.opts.Export.Split()))
}

// TableDescription is one relational output table of a form.
type TableDescription struct {
	Section string   `json:"section"`
	Table   string   `json:"table"`
	Parent  string   `json:"parent,omitempty"`
	Columns []string `json:"columns"`
	Headers []string `json:"headers"`
}

// LayoutDescription lists the tables a relational export of a form produces.
type LayoutDescription struct {
	Survey string             `json:"survey"`
	Tables []TableDescription `json:"tables"`
}

// DescribeLayout issues table identifiers for every section of the form.
func (s *ExportService) DescribeLayout(formPath string) (*LayoutDescription, error) {
	layout, err := s.LoadLayout(formPath)
	if err != nil {
		return nil, err
	}
	namer, err := etl.NewNamer(s.opts.Export.MaxIdentifierLength)
	if err != nil {
		return nil, err
	}
	tables, err := namer.ResolveLayout(layout)
	if err != nil {
		return nil, err
	}
	desc := &LayoutDescription{Survey: layout.Survey}
	for _, sec := range layout.Sections {
		desc.Tables = append(desc.Tables, TableDescription{
			Section: sec.Name,
			Table:   tables[sec.Name],
			Parent:  tables[sec.Parent],
			Columns: sec.Columns(),
			Headers: sec.Headers(),
		})
	}
	return desc, nil
}

// ── Preview / Schema Discovery ─────────────────────────────

// PreviewResult is the response from PreviewSource.
type PreviewResult struct {
	Schema  *etl.SourceSchema `json:"schema"`
	Records []etl.Record      `json:"records"`
}

// PreviewSource reads up to limit raw records from a source.
func (s *ExportService) PreviewSource(ctx context.Context, sourceType string, cfg etl.SourceConfig, limit int) (*PreviewResult, error) {
	if limit <= 0 {
		limit = 10
	}
	previewCtx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	records, schema, err := (&etl.Engine{Logger: s.log}).Preview(previewCtx, sourceType, cfg, limit)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{Schema: schema, Records: records}, nil
}

func (s *ExportService) DiscoverSchema(ctx context.Context, sourceType string, cfg etl.SourceConfig) (*etl.SourceSchema, error) {
	source, err := etl.GetSource(sourceType)
	if err != nil {
		return nil, err
	}

	discCtx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	return source.Discover(discCtx, cfg)
}

// ── Watchers (cron + file_watch) ──────────────────────────

// watchPath is the file a file_watch job reacts to: the trigger config, or
// the source's filePath when none is given.
func watchPath(j etl.ExportJob) string {
	if j.TriggerConfig != "" {
		return j.TriggerConfig
	}
	return j.SourceCfg.String("filePath")
}

// RestartWatchers tears down the current watcher/cron and rebuilds them from scratch.
func (s *ExportService) RestartWatchers(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()

	if s.store == nil {
		return
	}
	jobs, err := s.store.ListEnabledTriggeredJobs()
	if err != nil {
		s.log.Error("export watcher: failed to list jobs", "err", err)
		return
	}

	// ── Cron jobs ──
	var c *cron.Cron
	scheduled := 0
	for _, j := range jobs {
		if j.TriggerType != TriggerSchedule || j.TriggerConfig == "" {
			continue
		}
		if c == nil {
			c = cron.New()
		}
		jid := j.ID
		_, err := c.AddFunc(j.TriggerConfig, func() {
			s.log.Info("export cron: running job", "job", jid)
			if _, err := s.RunJob(ctx, jid); err != nil {
				s.log.Error("export cron: job failed", "job", jid, "err", err)
			}
		})
		if err != nil {
			s.log.Error("export cron: invalid expression", "expr", j.TriggerConfig, "job", jid, "err", err)
			continue
		}
		scheduled++
	}
	if c != nil {
		c.Start()
		s.cronSched = c
		s.log.Info("export cron: scheduled jobs", "count", scheduled)
	}

	// ── File watchers ──
	pathToJob := make(map[string]string)
	for _, j := range jobs {
		if j.TriggerType != TriggerFileWatch {
			continue
		}
		p := watchPath(j)
		if p == "" {
			s.log.Warn("export watcher: job has no path to watch", "job", j.ID)
			continue
		}
		absPath, err := filepath.Abs(p)
		if err != nil {
			s.log.Error("export watcher: bad path", "path", p, "err", err)
			continue
		}
		pathToJob[absPath] = j.ID
	}
	if len(pathToJob) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error("export watcher: failed to create watcher", "err", err)
		return
	}
	s.watcher = watcher

	watchedDirs := make(map[string]bool)
	for absPath := range pathToJob {
		dir := filepath.Dir(absPath)
		if watchedDirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			s.log.Error("export watcher: failed to watch dir", "dir", dir, "err", err)
			continue
		}
		watchedDirs[dir] = true
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s.watchCancel = cancel

	go func() {
		timers := make(map[string]*time.Timer)
		defer func() {
			for _, t := range timers {
				t.Stop()
			}
		}()
		for {
			select {
			case <-watchCtx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				absPath, _ := filepath.Abs(event.Name)
				jobID, ok := pathToJob[absPath]
				if !ok {
					continue
				}
				if t, exists := timers[jobID]; exists {
					t.Stop()
				}
				timers[jobID] = time.AfterFunc(watchDebounce, func() {
					s.log.Info("export watcher: file changed, running job", "path", absPath, "job", jobID)
					if _, err := s.RunJob(ctx, jobID); err != nil {
						s.log.Error("export watcher: run failed", "job", jobID, "err", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Error("export watcher: error", "err", err)
			}
		}
	}()

	s.log.Info("export watcher: watching files", "count", len(pathToJob))
}

// RunningJobs returns the IDs of jobs currently being exported.
func (s *ExportService) RunningJobs() []string {
	return s.runningJobs.Running()
}

// WaitRunning blocks until all running jobs finish or ctx is cancelled.
// Used for graceful shutdown.
func (s *ExportService) WaitRunning(ctx context.Context) {
	s.runningJobs.WaitAll(ctx)
}

// Stop tears down all watchers and schedulers.
func (s *ExportService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopWatchersLocked()
}

func (s *ExportService) stopWatchersLocked() {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
}
