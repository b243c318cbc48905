package cnst

const (
	// AppName is the server name reported in initialize results
	AppName = "mcp-gateway"
)

// BackendTransport identifies the transport style a backend speaks.
type BackendTransport string

const (
	// BackendTransportHTTP is plain JSON-RPC over discrete HTTP POSTs
	BackendTransportHTTP BackendTransport = "http"
	// BackendTransportSSE is a persistent SSE session with a companion
	// message endpoint discovered via an initial "endpoint" event
	BackendTransportSSE BackendTransport = "sse"
)

func (t BackendTransport) String() string {
	return string(t)
}

// Session store types
const (
	SessionStoreMemory = "memory"
	SessionStoreRedis  = "redis"
)

// Backend registry store types
const (
	RegistryStoreMemory = "memory"
	RegistryStoreDisk   = "disk"
)
