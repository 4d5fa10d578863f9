package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"surveyflat/internal/etl"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("not found")

// ExportStore implements persistence for export jobs and run logs.
type ExportStore struct {
	db *DB
}

// NewExportStore creates a new ExportStore.
func NewExportStore(db *DB) *ExportStore {
	return &ExportStore{db: db}
}

const jobColumns = `id, name, form_path, source_type, source_config, transforms, mode,
	driver_type, driver_config, sync_mode, dedupe_key, trigger_type, trigger_config, enabled,
	last_run_at, last_status, last_error, created_at, updated_at`

// ── ExportJob CRUD ─────────────────────────────────────────

type jobJSON struct {
	source, transforms, driver string
}

func encodeJob(job *etl.ExportJob) (jobJSON, error) {
	var out jobJSON
	for _, f := range []struct {
		dst *string
		v   any
		def string
	}{
		{&out.source, job.SourceCfg, "{}"},
		{&out.transforms, job.Transforms, "[]"},
		{&out.driver, job.DriverCfg, "{}"},
	} {
		b, err := json.Marshal(f.v)
		if err != nil {
			return out, fmt.Errorf("encode job %s: %w", job.Name, err)
		}
		*f.dst = string(b)
		if *f.dst == "null" {
			*f.dst = f.def
		}
	}
	return out, nil
}

func (s *ExportStore) CreateJob(job *etl.ExportJob) error {
	now := time.Now().UTC()
	job.ID = uuid.New().String()
	job.CreatedAt = now
	job.UpdatedAt = now

	enc, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.conn.Exec(
		`INSERT INTO export_jobs (id, name, form_path, source_type, source_config, transforms, mode,
		 driver_type, driver_config, sync_mode, dedupe_key, trigger_type, trigger_config, enabled,
		 created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.FormPath, job.SourceType, enc.source, enc.transforms, job.Mode,
		job.DriverType, enc.driver, job.SyncMode, job.DedupeKey, job.TriggerType, job.TriggerConfig,
		job.Enabled, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*etl.ExportJob, error) {
	job := &etl.ExportJob{}
	var srcCfg, transforms, driverCfg string
	var lastRun sql.NullTime
	if err := row.Scan(
		&job.ID, &job.Name, &job.FormPath, &job.SourceType, &srcCfg, &transforms, &job.Mode,
		&job.DriverType, &driverCfg, &job.SyncMode, &job.DedupeKey, &job.TriggerType, &job.TriggerConfig,
		&job.Enabled, &lastRun, &job.LastStatus, &job.LastError, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		job.LastRunAt = lastRun.Time
	}
	if err := json.Unmarshal([]byte(srcCfg), &job.SourceCfg); err != nil {
		return nil, fmt.Errorf("job %s source config: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(transforms), &job.Transforms); err != nil {
		return nil, fmt.Errorf("job %s transforms: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(driverCfg), &job.DriverCfg); err != nil {
		return nil, fmt.Errorf("job %s driver config: %w", job.ID, err)
	}
	return job, nil
}

func (s *ExportStore) GetJob(id string) (*etl.ExportJob, error) {
	job, err := scanJob(s.db.conn.QueryRow(`SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("export job %s: %w", id, ErrNotFound)
	}
	return job, err
}

func (s *ExportStore) UpdateJob(job *etl.ExportJob) error {
	job.UpdatedAt = time.Now().UTC()
	enc, err := encodeJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.conn.Exec(
		`UPDATE export_jobs SET name=?, form_path=?, source_type=?, source_config=?, transforms=?,
		 mode=?, driver_type=?, driver_config=?, sync_mode=?, dedupe_key=?, trigger_type=?,
		 trigger_config=?, enabled=?, updated_at=? WHERE id=?`,
		job.Name, job.FormPath, job.SourceType, enc.source, enc.transforms,
		job.Mode, job.DriverType, enc.driver, job.SyncMode, job.DedupeKey, job.TriggerType,
		job.TriggerConfig, job.Enabled, job.UpdatedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

func (s *ExportStore) UpdateJobStatus(id, status, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.conn.Exec(
		`UPDATE export_jobs SET last_run_at=?, last_status=?, last_error=?, updated_at=? WHERE id=?`,
		now, status, errMsg, now, id,
	)
	return err
}

func (s *ExportStore) DeleteJob(id string) error {
	tx, err := s.db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Delete run logs first.
	if _, err := tx.Exec(`DELETE FROM export_run_logs WHERE job_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM export_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("export job %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func (s *ExportStore) listJobs(where string) ([]etl.ExportJob, error) {
	rows, err := s.db.conn.Query(`SELECT ` + jobColumns + ` FROM export_jobs ` + where + ` ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []etl.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (s *ExportStore) ListJobs() ([]etl.ExportJob, error) {
	return s.listJobs("")
}

// ListEnabledTriggeredJobs returns enabled jobs with a schedule or file-watch trigger.
func (s *ExportStore) ListEnabledTriggeredJobs() ([]etl.ExportJob, error) {
	return s.listJobs(`WHERE enabled = 1 AND trigger_type IN ('schedule', 'file_watch')`)
}

// ── Run Logs ───────────────────────────────────────────────

func (s *ExportStore) CreateRunLog(log *etl.ExportRunLog) error {
	log.ID = uuid.New().String()
	_, err := s.db.conn.Exec(
		`INSERT INTO export_run_logs (id, job_id, run_id, started_at, finished_at, status,
		 records_read, rows_written, anomalies, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.JobID, log.RunID, log.StartedAt, log.FinishedAt, log.Status,
		log.RecordsRead, log.RowsWritten, log.Anomalies, log.Error,
	)
	return err
}

func (s *ExportStore) ListRunLogs(jobID string, limit int) ([]etl.ExportRunLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.conn.Query(
		`SELECT id, job_id, run_id, started_at, finished_at, status, records_read, rows_written, anomalies, error
		 FROM export_run_logs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []etl.ExportRunLog
	for rows.Next() {
		var l etl.ExportRunLog
		if err := rows.Scan(&l.ID, &l.JobID, &l.RunID, &l.StartedAt, &l.FinishedAt, &l.Status,
			&l.RecordsRead, &l.RowsWritten, &l.Anomalies, &l.Error); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
