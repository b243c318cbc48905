package mcpproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

// httpBackend is a minimal streamable HTTP tool server that requires the
// three-step handshake and a session header on post-initialize requests.
type httpBackend struct {
	mu          sync.Mutex
	sessions    map[string]bool
	nextSession int
	initialized int
	sseFramed   bool

	tools []mcp.ToolSchema
	srv   *httptest.Server
}

func newHTTPBackend(t *testing.T, tools []mcp.ToolSchema) *httpBackend {
	t.Helper()
	b := &httpBackend{
		sessions: make(map[string]bool),
		tools:    tools,
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *httpBackend) handle(w http.ResponseWriter, r *http.Request) {
	var req mcp.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch req.Method {
	case mcp.Initialize:
		b.nextSession++
		id := fmt.Sprintf("backend-sess-%d", b.nextSession)
		b.sessions[id] = true
		w.Header().Set(mcp.HeaderMcpSessionID, id)
		b.writeResult(w, req.Id, mcp.InitializedResult{
			ProtocolVersion: mcp.LatestProtocolVersion,
			ServerInfo:      mcp.ImplementationSchema{Name: "mock-backend"},
		})
	case mcp.NotificationInitialized:
		b.initialized++
		w.WriteHeader(http.StatusAccepted)
	default:
		sid := r.Header.Get(mcp.HeaderMcpSessionID)
		if !b.sessions[sid] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch req.Method {
		case mcp.ToolsList:
			b.writeResult(w, req.Id, mcp.ListToolsResult{Tools: b.tools})
		case mcp.ToolsCall:
			var params mcp.CallToolParams
			_ = json.Unmarshal(req.Params, &params)
			b.writeResult(w, req.Id, mcp.NewCallToolResultText("called "+params.Name))
		case mcp.Ping:
			b.writeResult(w, req.Id, map[string]any{})
		default:
			data, _ := json.Marshal(mcp.NewErrorResponse(req.Id, mcp.ErrorCodeMethodNotFound, "unknown method"))
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
		}
	}
}

func (b *httpBackend) writeResult(w http.ResponseWriter, id any, result any) {
	resp := mcp.JSONRPCResponse{
		JSONRPCBaseResult: mcp.JSONRPCBaseResult{JSONRPC: mcp.JSONRPCVersion, ID: id},
		Result:            result,
	}
	data, _ := json.Marshal(resp)
	if b.sseFramed {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func testTools() []mcp.ToolSchema {
	return []mcp.ToolSchema{
		{Name: "echo", Description: "echoes"},
		{Name: "add", Description: "adds"},
	}
}

func TestStreamableTransport_FetchToolsDoesHandshake(t *testing.T) {
	b := newHTTPBackend(t, testTools())
	tr := NewStreamableTransport(zap.NewNop(), b.srv.URL, http.DefaultClient, 5*time.Second)

	tools, err := tr.FetchTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.nextSession, "exactly one initialize")
	assert.Equal(t, 1, b.initialized, "initialized notification sent")
}

func TestStreamableTransport_SessionReusedAcrossCalls(t *testing.T) {
	b := newHTTPBackend(t, testTools())
	tr := NewStreamableTransport(zap.NewNop(), b.srv.URL, http.DefaultClient, 5*time.Second)

	_, err := tr.FetchTools(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.Ping(context.Background()))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.nextSession, "handshake must not repeat while the session lives")
}

func TestStreamableTransport_CallTool(t *testing.T) {
	b := newHTTPBackend(t, testTools())
	tr := NewStreamableTransport(zap.NewNop(), b.srv.URL, http.DefaultClient, 5*time.Second)

	result, err := tr.CallTool(context.Background(), mcp.CallToolParams{Name: "echo"})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "called echo", result.Content[0].Text)
	assert.False(t, result.IsError)
}

func TestStreamableTransport_ParsesSSEFramedResponse(t *testing.T) {
	b := newHTTPBackend(t, testTools())
	b.sseFramed = true
	tr := NewStreamableTransport(zap.NewNop(), b.srv.URL, http.DefaultClient, 5*time.Second)

	tools, err := tr.FetchTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 2)
}

func TestStreamableTransport_ReinitializesOnSessionLoss(t *testing.T) {
	b := newHTTPBackend(t, testTools())
	tr := NewStreamableTransport(zap.NewNop(), b.srv.URL, http.DefaultClient, 5*time.Second)

	_, err := tr.FetchTools(context.Background())
	require.NoError(t, err)

	// Backend forgets the session; the next call must redo the handshake
	// transparently instead of surfacing the 404.
	b.mu.Lock()
	b.sessions = make(map[string]bool)
	b.mu.Unlock()

	require.NoError(t, tr.Ping(context.Background()))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 2, b.nextSession)
}

func TestStreamableTransport_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewStreamableTransport(zap.NewNop(), srv.URL, http.DefaultClient, 5*time.Second)
	_, err := tr.FetchTools(context.Background())
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}
