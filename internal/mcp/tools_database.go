package mcpserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"surveyflat/internal/dbclient"
	"surveyflat/internal/domain"
	"surveyflat/internal/secret"
)

func (s *Server) registerDatabaseTools() {
	s.mcp.AddTool(mcp.NewTool("inspect_connection",
		mcp.WithDescription("Connect to a database (sqlite, mysql, postgres or mongodb) and list its tables or collections with their columns. Useful before configuring a database or mongodb source, or a sql driver."),
		mcp.WithString("connectionJSON", mcp.Description(`Connection as JSON: {"driver","host","port","database","username","sslMode","passwordKey","extraJson"}. The password is looked up by passwordKey in the secret store.`), mcp.Required()),
	), s.handleInspectConnection)
}

func (s *Server) handleInspectConnection(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var raw map[string]any
	if err := jsonArg(req.GetArguments(), "connectionJSON", &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("connectionJSON is required")
	}
	conn, err := domain.ConnectionFromConfig(raw)
	if err != nil {
		return nil, err
	}
	pw, err := secret.Password(s.secrets, conn.PasswordKey)
	if err != nil {
		return nil, fmt.Errorf("resolve password: %w", err)
	}

	c, err := dbclient.NewConnector(conn, pw)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	if err := c.TestConnection(ctx); err != nil {
		return nil, fmt.Errorf("test connection: %w", err)
	}
	schema, err := c.Introspect(ctx)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	return jsonResult(schema)
}
