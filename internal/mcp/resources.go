package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	jobsURI       = "surveyflat://jobs"
	jobRunsPrefix = "surveyflat://jobs/"
	jobRunsSuffix = "/runs"
)

func (s *Server) registerResources() {
	// ── surveyflat://jobs ──────────────────────────────
	s.mcp.AddResource(mcp.NewResource(
		jobsURI,
		"Export Jobs",
		mcp.WithMIMEType("application/json"),
	), s.handleJobsResource)

	// ── surveyflat://jobs/{jobId}/runs ─────────────────
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate(
			jobRunsPrefix+"{jobId}"+jobRunsSuffix,
			"Runs of an Export Job",
		),
		s.handleJobRunsResource,
	)
}

func (s *Server) handleJobsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	jobs, err := s.exports.ListJobs()
	if err != nil {
		return nil, err
	}

	type jobSummary struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Mode       string `json:"mode"`
		LastStatus string `json:"lastStatus"`
	}
	summaries := make([]jobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, jobSummary{ID: j.ID, Name: j.Name, Mode: string(j.Mode), LastStatus: j.LastStatus})
	}
	return jsonResource(jobsURI, summaries)
}

func (s *Server) handleJobRunsResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	jobID := jobIDFromURI(uri)
	if jobID == "" {
		return nil, fmt.Errorf("could not extract jobId from URI: %s", uri)
	}
	logs, err := s.exports.ListRunLogs(jobID, 0)
	if err != nil {
		return nil, err
	}
	return jsonResource(uri, logs)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// jobIDFromURI extracts the job ID from "surveyflat://jobs/{id}/runs".
func jobIDFromURI(uri string) string {
	rest, ok := strings.CutPrefix(uri, jobRunsPrefix)
	if !ok {
		return ""
	}
	id, ok := strings.CutSuffix(rest, jobRunsSuffix)
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}
