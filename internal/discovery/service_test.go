package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/internal/mcpproxy"
	"github.com/KumarDeepankar/mcp-gateway/internal/registry"
)

// newToolBackend serves the minimal streamable HTTP protocol: handshake plus
// a fixed tool list.
func newToolBackend(t *testing.T, toolNames ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string `json:"jsonrpc"`
			Id      any    `json:"id"`
			Method  string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.Method {
		case "initialize":
			w.Header().Set("Mcp-Session-Id", "backend-sess")
			writeResult(w, req.Id, map[string]any{"protocolVersion": "2025-06-18"})
		case "notifications/initialized":
			w.WriteHeader(http.StatusAccepted)
		case "tools/list":
			tools := make([]map[string]any, 0, len(toolNames))
			for _, name := range toolNames {
				tools = append(tools, map[string]any{"name": name})
			}
			writeResult(w, req.Id, map[string]any{"tools": tools})
		case "ping":
			writeResult(w, req.Id, map[string]any{})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeResult(w http.ResponseWriter, id, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
}

func testDiscoveryConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		RefreshInterval:     time.Minute,
		HealthCheckInterval: time.Second,
		StaleThreshold:      time.Minute,
		FailureThreshold:    3,
		FetchTimeout:        5 * time.Second,
	}
}

func newTestService(t *testing.T, servers ...registry.Server) (*Service, registry.Store) {
	t.Helper()
	lg := zap.NewNop()
	store := registry.NewMemoryStore(lg, servers)
	proxy := mcpproxy.NewManager(lg, config.ForwardConfig{
		CallTimeout:       5 * time.Second,
		ConnectTimeout:    2 * time.Second,
		SSEConnectTimeout: 2 * time.Second,
		SSECallTimeout:    2 * time.Second,
		MaxIdleConns:      10,
		MaxConnsPerHost:   5,
	})
	t.Cleanup(func() { _ = proxy.Close() })
	return NewService(lg, store, proxy, nil, testDiscoveryConfig()), store
}

func TestRefresh_IndexCompleteness(t *testing.T) {
	a := newToolBackend(t, "x", "y")
	b := newToolBackend(t, "y", "z")

	svc, _ := newTestService(t,
		registry.Server{URL: a.URL, Transport: cnst.BackendTransportHTTP},
		registry.Server{URL: b.URL, Transport: cnst.BackendTransportHTTP},
	)

	require.NoError(t, svc.Refresh(context.Background()))

	// Union of both backends: {x, y, z}.
	names := make(map[string]bool)
	for _, tool := range svc.Tools() {
		names[tool.Name] = true
	}
	assert.Equal(t, map[string]bool{"x": true, "y": true, "z": true}, names)

	// The collision on "y" resolves to the later-registered backend, and the
	// lookup never errors.
	loc, err := svc.ToolLocation(context.Background(), "y")
	require.NoError(t, err)
	assert.Equal(t, b.URL, loc.Server.URL)
}

func TestRefresh_FailureIsolation(t *testing.T) {
	healthy := newToolBackend(t, "alive")

	svc, _ := newTestService(t,
		registry.Server{URL: "http://127.0.0.1:1", Transport: cnst.BackendTransportHTTP},
		registry.Server{URL: healthy.URL, Transport: cnst.BackendTransportHTTP},
	)

	// The unreachable backend must not abort the refresh.
	require.NoError(t, svc.Refresh(context.Background()))

	loc, err := svc.ToolLocation(context.Background(), "alive")
	require.NoError(t, err)
	assert.Equal(t, healthy.URL, loc.Server.URL)
}

func TestRefresh_KeepsEntriesOfFailingBackend(t *testing.T) {
	backend := newToolBackend(t, "sticky")
	svc, store := newTestService(t,
		registry.Server{URL: backend.URL, Transport: cnst.BackendTransportHTTP},
	)
	require.NoError(t, svc.Refresh(context.Background()))

	// Backend dies but stays registered: its tools must stay routable.
	backend.Close()
	require.NoError(t, svc.Refresh(context.Background()))

	loc, err := svc.ToolLocation(context.Background(), "sticky")
	require.NoError(t, err)
	assert.Equal(t, backend.URL, loc.Server.URL)

	// Once unregistered, the next refresh purges the entry.
	require.NoError(t, store.Unregister(context.Background(), backend.URL))
	require.NoError(t, svc.Refresh(context.Background()))
	_, err = svc.ToolLocation(context.Background(), "sticky")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestToolLocation_MissTriggersRefresh(t *testing.T) {
	backend := newToolBackend(t, "late")
	svc, _ := newTestService(t,
		registry.Server{URL: backend.URL, Transport: cnst.BackendTransportHTTP},
	)

	// No explicit Refresh has run; the miss path must do one synchronously.
	loc, err := svc.ToolLocation(context.Background(), "late")
	require.NoError(t, err)
	assert.Equal(t, backend.URL, loc.Server.URL)

	_, err = svc.ToolLocation(context.Background(), "never-existed")
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestTools_StampedWithBackendMeta(t *testing.T) {
	backend := newToolBackend(t, "annotated")
	svc, _ := newTestService(t,
		registry.Server{URL: backend.URL, Transport: cnst.BackendTransportHTTP},
	)
	require.NoError(t, svc.Refresh(context.Background()))

	tools := svc.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, backend.URL, tools[0].Meta["gateway/backend"])
	assert.NotEmpty(t, tools[0].Meta["gateway/discovered_at"])
}

func TestHealth_TransitionAndReset(t *testing.T) {
	svc, _ := newTestService(t)
	boom := errors.New("connection refused")

	svc.recordFailure("http://b1", boom)
	svc.recordFailure("http://b1", boom)
	health := findHealth(t, svc, "http://b1")
	assert.True(t, health.Healthy, "below the threshold the backend stays healthy")
	assert.Equal(t, 2, health.ConsecutiveFailures)

	svc.recordFailure("http://b1", boom)
	health = findHealth(t, svc, "http://b1")
	assert.False(t, health.Healthy, "third consecutive failure flips health")
	assert.Equal(t, "connection refused", health.LastError)

	// One success resets everything.
	svc.recordSuccess("http://b1")
	health = findHealth(t, svc, "http://b1")
	assert.True(t, health.Healthy)
	assert.Zero(t, health.ConsecutiveFailures)
	assert.Empty(t, health.LastError)
}

func TestRefresh_RecordsBackendHealth(t *testing.T) {
	healthy := newToolBackend(t, "t1")
	svc, _ := newTestService(t,
		registry.Server{URL: healthy.URL, Transport: cnst.BackendTransportHTTP},
		registry.Server{URL: "http://127.0.0.1:1", Transport: cnst.BackendTransportHTTP},
	)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Refresh(context.Background()))
	}

	up := findHealth(t, svc, healthy.URL)
	assert.True(t, up.Healthy)
	down := findHealth(t, svc, "http://127.0.0.1:1")
	assert.False(t, down.Healthy)
	assert.GreaterOrEqual(t, down.ConsecutiveFailures, 3)
}

func findHealth(t *testing.T, svc *Service, url string) ServerHealth {
	t.Helper()
	for _, h := range svc.Health() {
		if h.URL == url {
			return h
		}
	}
	t.Fatalf("no health record for %s", url)
	return ServerHealth{}
}

func TestOnRefreshCallback(t *testing.T) {
	backend := newToolBackend(t, "a", "b")
	svc, _ := newTestService(t,
		registry.Server{URL: backend.URL, Transport: cnst.BackendTransportHTTP},
	)

	var gotCount int
	svc.OnRefresh(func(toolCount int) { gotCount = toolCount })
	require.NoError(t, svc.Refresh(context.Background()))
	assert.Equal(t, 2, gotCount)
}
