// Package mcpserver exposes survey exports to AI agents over the Model
// Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"surveyflat/internal/secret"
	"surveyflat/internal/service"
	"surveyflat/internal/storage"
)

// Server is the MCP server for surveyflat.
// It exposes tools, resources, and prompts for exporting survey submissions.
type Server struct {
	mcp      *server.MCPServer
	approval *ApprovalQueue
	log      *slog.Logger

	exports *service.ExportService
	secrets secret.Store
}

// Deps holds all dependencies passed from the CLI to the MCP server.
type Deps struct {
	Exports   *service.ExportService
	Secrets   secret.Store
	Approvals *storage.ApprovalStore
	// AutoApprove skips the approval queue for destructive tools.
	AutoApprove bool
	Logger      *slog.Logger
	Version     string
}

// New creates and configures a new MCP server with all tools and resources.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Secrets == nil {
		deps.Secrets = secret.Default()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		approval: NewApprovalQueue(deps.Approvals, deps.AutoApprove),
		log:      deps.Logger,
		exports:  deps.Exports,
		secrets:  deps.Secrets,
	}

	s.mcp = server.NewMCPServer(
		"surveyflat",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false),
		server.WithPromptCapabilities(true),
	)

	s.registerExportTools()
	s.registerJobTools()
	s.registerDatabaseTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// MCP returns the underlying server, for in-process clients.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	s.log.Info("mcp: starting stdio server")
	return server.ServeStdio(s.mcp)
}

// ── Helpers ────────────────────────────────────────────────

// textResult creates a simple text tool result.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

// jsonResult serializes v to JSON and wraps it in a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return textResult(string(data)), nil
}

// requireApproval asks the approval queue and reports whether to proceed.
func (s *Server) requireApproval(ctx context.Context, tool, description string) bool {
	approved, err := s.approval.Request(ctx, tool, description)
	if err != nil {
		s.log.Warn("mcp: action not approved", "tool", tool, "err", err)
	}
	return err == nil && approved
}
