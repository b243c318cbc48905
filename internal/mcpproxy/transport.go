package mcpproxy

import (
	"context"

	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

// Transport abstracts a single backend connection. Implementations exist
// for plain streamable HTTP backends and for persistent SSE backends.
type Transport interface {
	// FetchTools retrieves the backend's tool inventory.
	FetchTools(ctx context.Context) ([]mcp.ToolSchema, error)

	// CallTool invokes a tool on the backend and returns its result.
	CallTool(ctx context.Context, params mcp.CallToolParams) (*mcp.CallToolResult, error)

	// Ping checks whether the backend is responsive.
	Ping(ctx context.Context) error

	// Close releases the connection and any in-flight state.
	Close() error
}
