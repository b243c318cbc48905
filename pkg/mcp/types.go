package mcp

import "encoding/json"

type (
	JSONRPCBaseResult struct {
		JSONRPC string `json:"jsonrpc"`
		ID      any    `json:"id"`
	}

	// JSONRPCRequest represents a JSON-RPC request that expects a response
	JSONRPCRequest struct {
		// JSONRPC version, must be "2.0"
		JSONRPC string `json:"jsonrpc"`
		// A uniquely identifying ID for a request in JSON-RPC
		Id any `json:"id"`
		// The method to be invoked
		Method string `json:"method"`
		// The parameters to be passed to the method
		Params json.RawMessage `json:"params,omitempty"`
	}

	// JSONRPCResponse represents a JSON-RPC response
	JSONRPCResponse struct {
		JSONRPCBaseResult
		Result any `json:"result"`
	}

	// JSONRPCRawResponse is a response whose result is kept undecoded; used
	// when correlating backend responses before the caller interprets them.
	JSONRPCRawResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      any             `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *JSONRPCError   `json:"error,omitempty"`
	}

	// JSONRPCNotification represents a JSON-RPC notification
	JSONRPCNotification struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}

	// JSONRPCErrorSchema represents a full JSON-RPC error response
	JSONRPCErrorSchema struct {
		JSONRPCBaseResult
		Error JSONRPCError `json:"error"`
	}

	// JSONRPCError represents an error in a JSON-RPC response
	JSONRPCError struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}

	// ToolSchema represents a tool definition
	ToolSchema struct {
		// The name of the tool
		Name string `json:"name"`
		// A human-readable description of the tool
		Description string `json:"description,omitempty"`
		// A JSON Schema object defining the expected parameters for the tool
		InputSchema json.RawMessage `json:"inputSchema,omitempty"`
		// Gateway annotations, e.g. the owning backend and discovery time
		Meta map[string]any `json:"_meta,omitempty"`
	}

	// ListToolsResult represents the result of a tools/list request
	ListToolsResult struct {
		Tools []ToolSchema `json:"tools"`
	}

	// CallToolParams represents parameters for a tools/call request
	CallToolParams struct {
		// The name of the tool to call
		Name string `json:"name"`
		// The arguments to pass to the tool
		Arguments json.RawMessage `json:"arguments,omitempty"`
	}

	// Content represents a content item in a tool call result
	Content struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		Data     string `json:"data,omitempty"`
		MimeType string `json:"mimeType,omitempty"`
	}

	// CallToolResult represents the result of a tools/call request
	CallToolResult struct {
		Content []Content `json:"content"`
		IsError bool      `json:"isError,omitempty"`
	}

	// ImplementationSchema describes the name and version of an MCP implementation
	ImplementationSchema struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
	}

	// InitializeRequestParams represents parameters for initialize request
	InitializeRequestParams struct {
		// The latest version of the Model Context Protocol that the client supports
		ProtocolVersion string `json:"protocolVersion"`
		// Client capabilities
		Capabilities map[string]any `json:"capabilities,omitempty"`
		// Client implementation information
		ClientInfo ImplementationSchema `json:"clientInfo"`
	}

	// ServerCapabilitiesSchema represents capabilities a server may support
	ServerCapabilitiesSchema struct {
		Logging map[string]any        `json:"logging,omitempty"`
		Tools   ToolsCapabilitySchema `json:"tools"`
	}

	// ToolsCapabilitySchema represents tools-related capabilities
	ToolsCapabilitySchema struct {
		ListChanged bool `json:"listChanged"`
	}

	// InitializedResult represents the result of an initialize request
	InitializedResult struct {
		// The version of the Model Context Protocol that the server wants to use
		ProtocolVersion string `json:"protocolVersion"`
		// Server capabilities
		Capabilities ServerCapabilitiesSchema `json:"capabilities"`
		// Server implementation information
		ServerInfo ImplementationSchema `json:"serverInfo"`
		// Instructions describing how to use the server and its features
		Instructions string `json:"instructions,omitempty"`
	}
)

// NewRequest builds a JSON-RPC request with marshaled params. Marshal errors
// are impossible for the param types used by the gateway.
func NewRequest(id any, method string, params any) JSONRPCRequest {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return JSONRPCRequest{
		JSONRPC: JSONRPCVersion,
		Id:      id,
		Method:  method,
		Params:  raw,
	}
}

// NewNotification builds a JSON-RPC notification (no id, no response).
func NewNotification(method string, params any) JSONRPCNotification {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return JSONRPCNotification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}
}

// NewErrorResponse builds a JSON-RPC error response object.
func NewErrorResponse(id any, code int, message string) JSONRPCErrorSchema {
	return JSONRPCErrorSchema{
		JSONRPCBaseResult: JSONRPCBaseResult{
			JSONRPC: JSONRPCVersion,
			ID:      id,
		},
		Error: JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
}

// NewCallToolResultText creates a CallToolResult with a single text content.
func NewCallToolResultText(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
	}
}

// NewCallToolResultError creates an error CallToolResult with a text message.
func NewCallToolResultError(text string) *CallToolResult {
	return &CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}
