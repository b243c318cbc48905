package mcpproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

func testForwardConfig() config.ForwardConfig {
	return config.ForwardConfig{
		CallTimeout:       5 * time.Second,
		ConnectTimeout:    2 * time.Second,
		SSEConnectTimeout: 2 * time.Second,
		SSECallTimeout:    2 * time.Second,
		MaxIdleConns:      10,
		MaxConnsPerHost:   5,
	}
}

func collectFrames(t *testing.T, ch <-chan WireFrame) []WireFrame {
	t.Helper()
	var frames []WireFrame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return frames
			}
			frames = append(frames, frame)
		case <-timeout:
			t.Fatal("frame channel never closed")
		}
	}
}

func TestManager_ForwardStreamingJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	}))
	defer srv.Close()

	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	frames := collectFrames(t, m.ForwardStreaming(context.Background(),
		registry.Server{URL: srv.URL, Transport: cnst.BackendTransportHTTP},
		mcp.NewRequest(1, mcp.ToolsCall, nil)))

	require.Len(t, frames, 1)
	assert.Equal(t, "message", frames[0].Event)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, string(frames[0].Data))
}

func TestManager_ForwardStreamingReframesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Method {
		case mcp.Initialize:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%v,"result":{}}`, req.Id)
		case mcp.NotificationInitialized:
			w.WriteHeader(http.StatusAccepted)
		default:
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: message\ndata: first\n\nevent: message\ndata: second\n\n")
		}
	}))
	defer srv.Close()

	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	frames := collectFrames(t, m.ForwardStreaming(context.Background(),
		registry.Server{URL: srv.URL, Transport: cnst.BackendTransportHTTP},
		mcp.NewRequest(1, mcp.ToolsCall, nil)))

	require.Len(t, frames, 2)
	assert.Equal(t, []byte("first"), frames[0].Data)
	assert.Equal(t, []byte("second"), frames[1].Data)
}

func TestManager_ForwardStreamingErrorYieldsSingleErrorFrame(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	frames := collectFrames(t, m.ForwardStreaming(context.Background(),
		registry.Server{URL: srv.URL, Transport: cnst.BackendTransportHTTP},
		mcp.NewRequest(7, mcp.ToolsCall, nil)))

	// Exactly one well-formed JSON-RPC error frame, never a silent close.
	require.Len(t, frames, 1)
	var errResp mcp.JSONRPCErrorSchema
	require.NoError(t, json.Unmarshal(frames[0].Data, &errResp))
	assert.Equal(t, mcp.ErrorCodeGatewayError, errResp.Error.Code)
	assert.Equal(t, float64(7), errResp.ID)
}

func TestManager_ForwardStreamingUnreachableBackend(t *testing.T) {
	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	frames := collectFrames(t, m.ForwardStreaming(context.Background(),
		registry.Server{URL: "http://127.0.0.1:1", Transport: cnst.BackendTransportHTTP},
		mcp.NewRequest("x", mcp.ToolsCall, nil)))

	require.Len(t, frames, 1)
	var errResp mcp.JSONRPCErrorSchema
	require.NoError(t, json.Unmarshal(frames[0].Data, &errResp))
	assert.Equal(t, mcp.ErrorCodeGatewayError, errResp.Error.Code)
}

func TestManager_CallToolRelaysNotifications(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Method {
		case mcp.Initialize:
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%v,"result":{}}`, req.Id)
		case mcp.NotificationInitialized:
			w.WriteHeader(http.StatusAccepted)
		case mcp.ToolsCall:
			// A progress notification ahead of the correlated response.
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/message\",\"params\":{\"level\":\"info\"}}\n\n")
			fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":%v,\"result\":{\"content\":[{\"type\":\"text\",\"text\":\"done\"}]}}\n\n", req.Id)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	var notes [][]byte
	result, err := m.CallTool(context.Background(),
		registry.Server{URL: srv.URL, Transport: cnst.BackendTransportHTTP},
		mcp.CallToolParams{Name: "echo"},
		func(data []byte) { notes = append(notes, data) })

	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "done", result.Content[0].Text)

	require.Len(t, notes, 1)
	assert.Contains(t, string(notes[0]), "notifications/message")
}

func TestManager_CallToolUndecodableResultIsParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req mcp.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case mcp.Initialize:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%v,"result":{}}`, req.Id)
		case mcp.NotificationInitialized:
			w.WriteHeader(http.StatusAccepted)
		default:
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%v,"result":42}`, req.Id)
		}
	}))
	defer srv.Close()

	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	_, err := m.CallTool(context.Background(),
		registry.Server{URL: srv.URL, Transport: cnst.BackendTransportHTTP},
		mcp.CallToolParams{Name: "echo"}, nil)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, srv.URL, parseErr.URL)
}

func TestManager_UnknownTransport(t *testing.T) {
	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	_, err := m.FetchTools(context.Background(),
		registry.Server{URL: "http://example.invalid", Transport: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestManager_CachesTransportPerBackend(t *testing.T) {
	b := newHTTPBackend(t, testTools())
	m := NewManager(zap.NewNop(), testForwardConfig())
	defer m.Close()

	srv := registry.Server{URL: b.srv.URL, Transport: cnst.BackendTransportHTTP}
	_, err := m.FetchTools(context.Background(), srv)
	require.NoError(t, err)
	require.NoError(t, m.Probe(context.Background(), srv))

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.nextSession, "transport cache must reuse the backend session")
}
