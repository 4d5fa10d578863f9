package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"surveyflat/internal/etl"
	"surveyflat/internal/etl/drivers"
	"surveyflat/internal/service"
)

const transformsHelp = `Optional JSON array of transforms applied to each submission before flattening. Each transform has {type, config}. Available types:
- filter: {field, op (eq|neq|gt|lt|contains), value} — drop submissions not matching
- rename: {mapping: {oldName: newName}} — rename top-level keys
- select: {fields: ["a","b"]} — keep only the listed keys
- compute: {columns: [{name, expression}]} — add keys, use {field} refs
- sort: {field, direction (asc|desc)} — sort submissions
- limit: {count} — cap the number of submissions
- type_cast: {field, castType (number|string|bool)} — convert values
- dedupe: use dedupeKey instead`

func (s *Server) registerExportTools() {
	s.mcp.AddTool(mcp.NewTool("list_sources",
		mcp.WithDescription("List available submission source types with their configuration schemas"),
	), s.handleListSources)

	s.mcp.AddTool(mcp.NewTool("list_drivers",
		mcp.WithDescription("List available export driver types (memory, csv, sql)"),
	), s.handleListDrivers)

	s.mcp.AddTool(mcp.NewTool("describe_layout",
		mcp.WithDescription("Load a form definition and describe the relational tables an export produces: table names, parent tables, columns and headers"),
		mcp.WithString("formPath", mcp.Description("Path to the form definition (YAML or JSON)"), mcp.Required()),
	), s.handleDescribeLayout)

	s.mcp.AddTool(mcp.NewTool("preview_source",
		mcp.WithDescription("Read a few raw submissions from a source without exporting anything"),
		mcp.WithString("sourceType", mcp.Description("Source type (use list_sources)"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Number of submissions to read (default 10)")),
	), s.handlePreviewSource)

	s.mcp.AddTool(mcp.NewTool("preview_export",
		mcp.WithDescription("Flatten a few submissions in memory and return the resulting tables. Nothing is written."),
		mcp.WithString("formPath", mcp.Description("Path to the form definition"), mcp.Required()),
		mcp.WithString("sourceType", mcp.Description("Source type"), mcp.Required()),
		mcp.WithString("sourceConfigJSON", mcp.Description("Source configuration as JSON"), mcp.Required()),
		mcp.WithString("mode", mcp.Description("relational (one table per repeat) or wide (one row per submission, default)")),
		mcp.WithString("transformsJSON", mcp.Description(transformsHelp)),
		mcp.WithString("dedupeKey", mcp.Description("Key used to drop duplicate submissions (optional)")),
		mcp.WithNumber("limit", mcp.Description("Number of submissions to flatten (default 5)")),
	), s.handlePreviewExport)
}

func (s *Server) handleListSources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.exports.ListSources())
}

func (s *Server) handleListDrivers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(drivers.Types())
}

func (s *Server) handleDescribeLayout(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	formPath := req.GetString("formPath", "")
	if formPath == "" {
		return nil, fmt.Errorf("formPath is required")
	}
	desc, err := s.exports.DescribeLayout(formPath)
	if err != nil {
		return nil, fmt.Errorf("describe layout: %w", err)
	}
	return jsonResult(desc)
}

func (s *Server) handlePreviewSource(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	sourceType := getString(args, "sourceType")
	if sourceType == "" {
		return nil, fmt.Errorf("sourceType is required")
	}
	var cfg etl.SourceConfig
	if err := jsonArg(args, "sourceConfigJSON", &cfg); err != nil {
		return nil, err
	}

	preview, err := s.exports.PreviewSource(ctx, sourceType, cfg, getInt(args, "limit", 10))
	if err != nil {
		return nil, fmt.Errorf("preview source: %w", err)
	}
	return jsonResult(preview)
}

// previewTable is a memory table rendered for an agent.
type previewTable struct {
	Name    string     `json:"name"`
	Section string     `json:"section"`
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

func (s *Server) handlePreviewExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := exportInput(req.GetArguments())
	if err != nil {
		return nil, err
	}

	result, mem, err := s.exports.PreviewExport(ctx, input, getInt(req.GetArguments(), "limit", 5))
	if err != nil {
		return nil, fmt.Errorf("preview export: %w", err)
	}
	var tables []previewTable
	for _, t := range mem.Tables() {
		tables = append(tables, previewTable{Name: t.Name, Section: t.Section, Columns: t.Columns, Rows: t.Strings()})
	}
	return jsonResult(map[string]any{
		"result": result,
		"tables": tables,
	})
}

// exportInput reads the export fields shared by preview_export and create_job.
func exportInput(args map[string]any) (service.ExportInput, error) {
	in := service.ExportInput{
		Name:          getString(args, "name"),
		FormPath:      getString(args, "formPath"),
		SourceType:    getString(args, "sourceType"),
		Mode:          getString(args, "mode"),
		DriverType:    getString(args, "driverType"),
		SyncMode:      getString(args, "syncMode"),
		DedupeKey:     getString(args, "dedupeKey"),
		TriggerType:   getString(args, "triggerType"),
		TriggerConfig: getString(args, "triggerConfig"),
		Enabled:       getBool(args, "enabled"),
	}
	if err := jsonArg(args, "sourceConfigJSON", &in.SourceConfig); err != nil {
		return in, err
	}
	if err := jsonArg(args, "driverConfigJSON", &in.DriverConfig); err != nil {
		return in, err
	}
	if err := jsonArg(args, "transformsJSON", &in.Transforms); err != nil {
		return in, err
	}
	return in, nil
}
