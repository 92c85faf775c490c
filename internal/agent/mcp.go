package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ShayCichocki/magentic/internal/ledger"
	"github.com/ShayCichocki/magentic/internal/version"
)

// MCPConfig describes a stdio MCP server.
type MCPConfig struct {
	Command string
	Args    []string
	Env     []string
}

// DialMCP launches a stdio MCP server and completes the initialize handshake.
func DialMCP(ctx context.Context, cfg MCPConfig) (*client.Client, error) {
	c, err := client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
	if err != nil {
		return nil, fmt.Errorf("start mcp server %q: %w", cfg.Command, err)
	}
	if err := InitializeMCP(ctx, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// InitializeMCP starts the transport and performs the initialize handshake.
func InitializeMCP(ctx context.Context, c *client.Client) error {
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start mcp transport: %w", err)
	}
	req := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "magentic",
				Version: version.Get(),
			},
		},
	}
	if _, err := c.Initialize(ctx, req); err != nil {
		return fmt.Errorf("initialize mcp session: %w", err)
	}
	return nil
}

// MCP is an agent that calls a single tool on an MCP server.
type MCP struct {
	name string
	c    *client.Client
	tool string
	// taskArg names the tool argument that receives the sub-task.
	taskArg string
	// contextArg, when set, receives the rendered shared context.
	contextArg string
}

// NewMCP creates an MCP agent. taskArg defaults to "task".
func NewMCP(name string, c *client.Client, tool, taskArg, contextArg string) *MCP {
	if taskArg == "" {
		taskArg = "task"
	}
	return &MCP{name: name, c: c, tool: tool, taskArg: taskArg, contextArg: contextArg}
}

// Invoke calls the tool with the sub-task.
func (a *MCP) Invoke(ctx context.Context, req Request) (Response, error) {
	args := map[string]any{a.taskArg: req.SubTask}
	if a.contextArg != "" {
		args[a.contextArg] = ledger.Render(req.View)
	}

	res, err := a.c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{Name: a.tool, Arguments: args},
	})
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		return Response{}, fmt.Errorf("%s: call %s: %w: %v", a.name, a.tool, ErrUnavailable, err)
	}

	var parts []string
	for _, content := range res.Content {
		if text, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, text.Text)
		}
	}
	out := strings.Join(parts, "\n")
	if res.IsError {
		return Response{}, fmt.Errorf("%s: tool %s: %w: %s", a.name, a.tool, ErrExecution, out)
	}
	return Response{Payload: out}, nil
}

// Close shuts down the MCP session.
func (a *MCP) Close() error {
	return a.c.Close()
}
