package mcp

// Protocol versions
const (
	ProtocolVersion20250618 = "2025-06-18"
	ProtocolVersion20250326 = "2025-03-26"
	LatestProtocolVersion   = ProtocolVersion20250618
	JSONRPCVersion          = "2.0"
)

// SupportedProtocolVersions lists the protocol versions the gateway accepts
// in the MCP-Protocol-Version header.
var SupportedProtocolVersions = []string{
	ProtocolVersion20250618,
	ProtocolVersion20250326,
}

// Methods
const (
	Initialize              = "initialize"
	NotificationInitialized = "notifications/initialized"
	Ping                    = "ping"
	ToolsList               = "tools/list"
	ToolsCall               = "tools/call"
)

// Gateway-originated notifications
const (
	NotificationGatewayProgress = "notifications/gateway_progress"
	NotificationToolsRefresh    = "notifications/tools_refresh"
)

// Standard JSON-RPC error codes
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternalError  = -32603
)

// Gateway error codes. Backend-originated errors are wrapped into one of
// these, never passed through raw.
const (
	ErrorCodeGatewayError = -32000
	// ErrorCodeAuthRequired is reserved for Authorizer implementations that
	// demand credentials; the built-in allow-all authorizer never returns it.
	ErrorCodeAuthRequired    = -32001
	ErrorCodeResponseParsing = -32002
	ErrorCodeAccessDenied    = -32003
)

// Headers
const (
	HeaderMcpSessionID    = "Mcp-Session-Id"
	HeaderProtocolVersion = "MCP-Protocol-Version"
	HeaderLastEventID     = "Last-Event-ID"
)

// IsSupportedProtocolVersion reports whether v is a protocol version the
// gateway speaks.
func IsSupportedProtocolVersion(v string) bool {
	for _, s := range SupportedProtocolVersions {
		if s == v {
			return true
		}
	}
	return false
}

// IsVisibleASCII reports whether s consists solely of visible ASCII
// characters (0x21-0x7E), the alphabet the protocol allows for session ids.
func IsVisibleASCII(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7E {
			return false
		}
	}
	return true
}
