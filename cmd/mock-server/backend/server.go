// Package backend provides mock MCP tool servers for exercising the gateway
// end to end: one speaking streamable HTTP, one speaking SSE.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer builds the mock tool server shared by both transports.
func NewMCPServer(name string) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		name,
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	mcpServer.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echoes back the input"),
		mcp.WithString("message",
			mcp.Description("Message to echo"),
			mcp.Required(),
		),
	), handleEchoTool)

	mcpServer.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Adds two numbers"),
		mcp.WithNumber("a",
			mcp.Description("First number"),
			mcp.Required(),
		),
		mcp.WithNumber("b",
			mcp.Description("Second number"),
			mcp.Required(),
		),
	), handleAddTool)

	mcpServer.AddTool(mcp.NewTool("current_time",
		mcp.WithDescription("Returns the server's current time"),
	), handleCurrentTimeTool)

	mcpServer.AddTool(mcp.NewTool("slow_echo",
		mcp.WithDescription("Echoes back the input after a delay"),
		mcp.WithString("message",
			mcp.Description("Message to echo"),
			mcp.Required(),
		),
		mcp.WithNumber("delay_ms",
			mcp.Description("Delay before responding, in milliseconds"),
			mcp.DefaultNumber(500),
		),
	), handleSlowEchoTool)

	return mcpServer
}

func decodeArguments(request mcp.CallToolRequest) (map[string]any, error) {
	raw, ok := request.Params.Arguments.(json.RawMessage)
	if !ok {
		if m, ok := request.Params.Arguments.(map[string]any); ok {
			return m, nil
		}
		return nil, fmt.Errorf("invalid arguments type")
	}
	var arguments map[string]any
	if err := json.Unmarshal(raw, &arguments); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return arguments, nil
}

func handleEchoTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	arguments, err := decodeArguments(request)
	if err != nil {
		return nil, err
	}
	message, ok := arguments["message"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message argument")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: fmt.Sprintf("Echo: %s", message)},
		},
	}, nil
}

func handleAddTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	arguments, err := decodeArguments(request)
	if err != nil {
		return nil, err
	}
	a, ok1 := arguments["a"].(float64)
	b, ok2 := arguments["b"].(float64)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("invalid number arguments")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: fmt.Sprintf("The sum of %v and %v is %v.", a, b, a+b)},
		},
	}, nil
}

func handleCurrentTimeTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: time.Now().UTC().Format(time.RFC3339)},
		},
	}, nil
}

func handleSlowEchoTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	arguments, err := decodeArguments(request)
	if err != nil {
		return nil, err
	}
	message, ok := arguments["message"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message argument")
	}
	delay := 500.0
	if d, ok := arguments["delay_ms"].(float64); ok {
		delay = d
	}

	select {
	case <-time.After(time.Duration(delay) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: fmt.Sprintf("Echo (delayed): %s", message)},
		},
	}, nil
}
