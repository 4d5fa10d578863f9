package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(mcp.NewPrompt("export_survey",
		mcp.WithPromptDescription("Guide through exporting the submissions of a survey form into flat tables"),
		mcp.WithArgument("formPath",
			mcp.ArgumentDescription("Path to the form definition"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("sourceType",
			mcp.ArgumentDescription("Where the submissions are (json_file, mongodb, database)"),
			mcp.RequiredArgument(),
		),
	), s.handleExportSurveyPrompt)

	s.mcp.AddPrompt(mcp.NewPrompt("schedule_export",
		mcp.WithPromptDescription("Set up a recurring export job for a survey"),
		mcp.WithArgument("formPath",
			mcp.ArgumentDescription("Path to the form definition"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("schedule",
			mcp.ArgumentDescription("Cron expression, e.g. @daily or 0 3 * * *"),
			mcp.RequiredArgument(),
		),
	), s.handleScheduleExportPrompt)
}

func (s *Server) handleExportSurveyPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	formPath := req.Params.Arguments["formPath"]
	sourceType := req.Params.Arguments["sourceType"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Export submissions of %s", formPath),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Export the submissions of the form at "%s" from a %s source. Follow these steps:

1. Use describe_layout on the form to see the tables a relational export produces
2. Use list_sources to find the configuration fields of %s, then preview_source to check a few submissions
3. Use preview_export in both relational and wide mode and pick the shape that suits the analysis
4. Use list_drivers, then create_job with the chosen mode and driver
5. Use run_job to export, then list_run_logs to confirm rows were written and check the anomaly count

Report any unknown fields or malformed GPS values the run logged.`, formPath, sourceType, sourceType),
				},
			},
		},
	}, nil
}

func (s *Server) handleScheduleExportPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	formPath := req.Params.Arguments["formPath"]
	schedule := req.Params.Arguments["schedule"]
	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Schedule an export of %s", formPath),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Set up a scheduled export for the form at "%s" running on "%s":

1. Use describe_layout and preview_export to agree on the mode and source configuration
2. Use create_job with triggerType "schedule", triggerConfig "%s" and enabled true
3. Prefer syncMode "append" for sql drivers so earlier exports are kept
4. Use run_job once to verify the job, then list_jobs to confirm it is scheduled`, formPath, schedule, schedule),
				},
			},
		},
	}, nil
}
