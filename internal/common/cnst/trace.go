package cnst

// Tracer names used across the services
const (
	// TraceCore is the tracer name for core server logic
	TraceCore = "mcp-gateway/core"
	// TraceMCPProxy is the tracer name for downstream MCP proxy/transport
	TraceMCPProxy = "mcp-gateway/mcpproxy"
	// TraceDiscovery is the tracer name for the discovery service
	TraceDiscovery = "mcp-gateway/discovery"
)

// Common span names and prefixes
const (
	// SpanMCPMethodPrefix prefixes spans for handling MCP methods
	SpanMCPMethodPrefix = "mcp.method."

	// SpanDiscoveryRefresh represents one full tool index refresh
	SpanDiscoveryRefresh = "mcp.discovery.refresh"

	// Transport-specific spans
	SpanTransportHTTPFetchTools = "mcp.transport.http.fetch_tools"
	SpanTransportHTTPCallTool   = "mcp.transport.http.call_tool"
	SpanTransportSSEFetchTools  = "mcp.transport.sse.fetch_tools"
	SpanTransportSSECallTool    = "mcp.transport.sse.call_tool"
)

// Span attribute keys
const (
	AttrMCPSessionID = "mcp.session_id"
	AttrMCPMethod    = "mcp.method"
	AttrMCPToolName  = "mcp.tool_name"
	AttrBackendURL   = "mcp.backend_url"
)
