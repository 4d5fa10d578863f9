package mcpserver

import (
	"context"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"surveyflat/internal/etl"
)

func (s *Server) registerJobTools() {
	s.mcp.AddTool(mcp.NewTool("create_job",
		mcp.WithDescription("Create a stored export job (form + source → flattened tables in a driver). Jobs can run on demand, on a cron schedule or when a submissions file changes."),
		mcp.WithString("name", mcp.Description("Job name")),
		mcp.WithString("formPath", mcp.Description("Path to the form definition"), mcp.Required()),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_sources)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON"), mcp.Required()),
		mcp.WithString("mode", mcp.Description("relational or wide (default)")),
		mcp.WithString("driverType", mcp.Description("Driver type (use list_drivers)"), mcp.Required()),
		mcp.WithString("driverConfigJSON", mcp.Description(`Driver configuration as JSON, e.g. {"dir":"out"} for csv or {"connection":{...}} for sql`)),
		mcp.WithString("syncMode", mcp.Description("replace (default) or append")),
		mcp.WithString("transformsJSON", mcp.Description(transformsHelp)),
		mcp.WithString("dedupeKey", mcp.Description("Key used to drop duplicate submissions (optional)")),
		mcp.WithString("triggerType", mcp.Description("manual (default), schedule or file_watch")),
		mcp.WithString("triggerConfig", mcp.Description("Cron expression for schedule, file path for file_watch")),
		mcp.WithBoolean("enabled", mcp.Description("Whether schedule and file_watch triggers are active")),
	), s.handleCreateJob)

	s.mcp.AddTool(mcp.NewTool("list_jobs",
		mcp.WithDescription("List stored export jobs with their last status"),
	), s.handleListJobs)

	s.mcp.AddTool(mcp.NewTool("run_job",
		mcp.WithDescription("🛑 DESTRUCTIVE: Run an export job. Replace mode overwrites existing tables. Requires user approval."),
		mcp.WithString("jobId", mcp.Description("Export job ID"), mcp.Required()),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{DestructiveHint: boolPtr(true)}),
	), s.handleRunJob)

	s.mcp.AddTool(mcp.NewTool("list_run_logs",
		mcp.WithDescription("List recent runs of an export job"),
		mcp.WithString("jobId", mcp.Description("Export job ID"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	), s.handleListRunLogs)
}

func (s *Server) handleCreateJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := exportInput(req.GetArguments())
	if err != nil {
		return nil, err
	}
	job, err := s.exports.CreateJob(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create export job: %w", err)
	}
	return jsonResult(job)
}

// jobSummary is a job as listed to an agent.
type jobSummary struct {
	etl.ExportJob
	Running bool `json:"running"`
}

func (s *Server) handleListJobs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs, err := s.exports.ListJobs()
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	running := s.exports.RunningJobs()
	out := make([]jobSummary, len(jobs))
	for i, j := range jobs {
		out[i] = jobSummary{ExportJob: j, Running: slices.Contains(running, j.ID)}
	}
	return jsonResult(out)
}

func (s *Server) handleRunJob(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := req.GetString("jobId", "")
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	job, err := s.exports.GetJob(jobID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	if !s.requireApproval(ctx, "run_job",
		fmt.Sprintf("Run export job %q (%s, %s into %s)", job.Name, job.Mode, job.SyncMode, job.DriverType)) {
		return textResult("Action rejected by user"), nil
	}

	result, err := s.exports.RunJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("run export job: %w", err)
	}
	return jsonResult(result)
}

func (s *Server) handleListRunLogs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	jobID := getString(args, "jobId")
	if jobID == "" {
		return nil, fmt.Errorf("jobId is required")
	}
	logs, err := s.exports.ListRunLogs(jobID, getInt(args, "limit", 20))
	if err != nil {
		return nil, fmt.Errorf("list run logs: %w", err)
	}
	return jsonResult(logs)
}
