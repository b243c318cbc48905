package mcpproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
	"github.com/KumarDeepankar/mcp-gateway/pkg/trace"
)

// Manager owns one Transport per backend and the shared outbound HTTP
// client. Transports are created on first use and cached; a dead SSE
// connection is evicted and rebuilt on the next call.
type Manager struct {
	logger *zap.Logger
	cfg    config.ForwardConfig
	client *http.Client

	mu         sync.Mutex
	transports map[string]Transport

	reqID atomic.Int64
}

// NewManager creates a transport manager with a bounded connection pool.
func NewManager(logger *zap.Logger, cfg config.ForwardConfig) *Manager {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost,
	}
	return &Manager{
		logger:     logger.Named("mcpproxy"),
		cfg:        cfg,
		client:     &http.Client{Transport: transport},
		transports: make(map[string]Transport),
	}
}

// transportFor returns a live transport for the backend, creating and
// handshaking one if needed.
func (m *Manager) transportFor(ctx context.Context, srv registry.Server) (Transport, error) {
	m.mu.Lock()
	t, ok := m.transports[srv.URL]
	if ok {
		if sse, isSSE := t.(*SSEClient); isSSE && sse.State() == stateClosed {
			delete(m.transports, srv.URL)
			ok = false
		}
	}
	m.mu.Unlock()
	if ok {
		return t, nil
	}

	switch srv.Transport {
	case cnst.BackendTransportSSE:
		sse, err := NewSSEClient(m.logger, srv.URL, m.client, m.cfg.SSEConnectTimeout, m.cfg.SSECallTimeout)
		if err != nil {
			return nil, err
		}
		if err := sse.Connect(ctx); err != nil {
			return nil, err
		}
		if err := sse.Initialize(ctx); err != nil {
			sse.Close()
			return nil, err
		}
		t = sse
	case cnst.BackendTransportHTTP:
		t = NewStreamableTransport(m.logger, srv.URL, m.client, m.cfg.CallTimeout)
	default:
		return nil, fmt.Errorf("unknown backend transport %q for %s", srv.Transport, srv.URL)
	}

	m.mu.Lock()
	// Another goroutine may have raced us here; prefer the existing one.
	if existing, ok := m.transports[srv.URL]; ok {
		m.mu.Unlock()
		t.Close()
		return existing, nil
	}
	m.transports[srv.URL] = t
	m.mu.Unlock()
	return t, nil
}

// evict drops a transport after a failure so the next call reconnects.
func (m *Manager) evict(url string, t Transport) {
	m.mu.Lock()
	if cur, ok := m.transports[url]; ok && cur == t {
		delete(m.transports, url)
	}
	m.mu.Unlock()
	t.Close()
}

// FetchTools retrieves the tool inventory of one backend.
func (m *Manager) FetchTools(ctx context.Context, srv registry.Server) ([]mcp.ToolSchema, error) {
	spanName := cnst.SpanTransportHTTPFetchTools
	if srv.Transport == cnst.BackendTransportSSE {
		spanName = cnst.SpanTransportSSEFetchTools
	}
	scope := trace.Tracer(cnst.TraceMCPProxy).Start(ctx, spanName).
		WithAttrs(attribute.String(cnst.AttrBackendURL, srv.URL))
	defer scope.End()
	ctx = scope.Ctx

	t, err := m.transportFor(ctx, srv)
	if err != nil {
		return nil, err
	}
	tools, err := t.FetchTools(ctx)
	if err != nil {
		m.evict(srv.URL, t)
		return nil, err
	}
	return tools, nil
}

// CallTool invokes a tool on the backend that owns it, through the same
// streaming path as ForwardStreaming. Backend-originated notifications that
// arrive mid-call are handed to onEvent; the correlated response is decoded
// into the typed result. An undecodable reply is a ParseError, distinct from
// transport failures.
func (m *Manager) CallTool(ctx context.Context, srv registry.Server, params mcp.CallToolParams, onEvent func(data []byte)) (*mcp.CallToolResult, error) {
	spanName := cnst.SpanTransportHTTPCallTool
	if srv.Transport == cnst.BackendTransportSSE {
		spanName = cnst.SpanTransportSSECallTool
	}
	scope := trace.Tracer(cnst.TraceMCPProxy).Start(ctx, spanName).
		WithAttrs(attribute.String(cnst.AttrBackendURL, srv.URL),
			attribute.String(cnst.AttrMCPToolName, params.Name))
	defer scope.End()
	ctx = scope.Ctx

	req := mcp.NewRequest(m.reqID.Add(1), mcp.ToolsCall, params)

	var final *mcp.JSONRPCRawResponse
	var badFrame error
	for frame := range m.ForwardStreaming(ctx, srv, req) {
		if badFrame != nil {
			// Drain so the forwarding goroutine can finish.
			continue
		}
		var raw mcp.JSONRPCRawResponse
		if err := json.Unmarshal(frame.Data, &raw); err != nil {
			badFrame = &ParseError{URL: srv.URL, Err: err}
			continue
		}
		if raw.ID == nil {
			if onEvent != nil {
				onEvent(frame.Data)
			}
			continue
		}
		final = &raw
	}
	if badFrame != nil {
		return nil, badFrame
	}
	if final == nil {
		return nil, fmt.Errorf("backend %s closed the stream without a response", srv.URL)
	}
	if final.Error != nil {
		return nil, fmt.Errorf("tools/call %s on %s: %s (code %d)",
			params.Name, srv.URL, final.Error.Message, final.Error.Code)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(final.Result, &result); err != nil {
		return nil, &ParseError{URL: srv.URL, Err: err}
	}
	return &result, nil
}

// Probe checks backend liveness for the health monitor.
func (m *Manager) Probe(ctx context.Context, srv registry.Server) error {
	t, err := m.transportFor(ctx, srv)
	if err != nil {
		return err
	}
	if err := t.Ping(ctx); err != nil {
		m.evict(srv.URL, t)
		return err
	}
	return nil
}

// ForwardStreaming forwards a request to a backend and re-frames whatever
// comes back for the caller's event stream. Exactly one of: a sequence of
// upstream frames, or a single JSON-RPC error frame. The returned channel is
// always closed.
func (m *Manager) ForwardStreaming(ctx context.Context, srv registry.Server, req mcp.JSONRPCRequest) <-chan WireFrame {
	out := make(chan WireFrame, 8)
	emit := func(f WireFrame) error {
		select {
		case out <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	go func() {
		defer close(out)
		if err := m.forwardFrames(ctx, srv, req, emit); err != nil {
			m.logger.Warn("streaming forward failed",
				zap.String("url", srv.URL),
				zap.String("method", req.Method),
				zap.Error(err))
			errResp := mcp.NewErrorResponse(req.Id, mcp.ErrorCodeGatewayError,
				fmt.Sprintf("backend request failed: %v", err))
			data, _ := json.Marshal(errResp)
			select {
			case out <- WireFrame{Event: "message", Data: data}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

// forwardFrames routes one request through the backend's transport and emits
// every resulting frame. HTTP backends stream through the session-aware
// transport; SSE backends answer with the one correlated response.
func (m *Manager) forwardFrames(ctx context.Context, srv registry.Server, req mcp.JSONRPCRequest, emit func(WireFrame) error) error {
	t, err := m.transportFor(ctx, srv)
	if err != nil {
		return err
	}

	if srv.Transport == cnst.BackendTransportSSE {
		sse, ok := t.(*SSEClient)
		if !ok {
			return fmt.Errorf("backend %s is not an sse transport", srv.URL)
		}
		// Re-id the outbound request so it cannot collide with the client's
		// own traffic, then restore the caller's id on the way back.
		fwd := req
		fwd.Id = sse.nextRequestID()
		raw, err := sse.SendMessage(ctx, fwd)
		if err != nil {
			m.evict(srv.URL, t)
			return err
		}
		raw.ID = req.Id
		data, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		return emit(WireFrame{Event: "message", Data: data})
	}

	st, ok := t.(*StreamableTransport)
	if !ok {
		return fmt.Errorf("backend %s is not an http transport", srv.URL)
	}
	if err := st.stream(ctx, req, emit); err != nil {
		m.evict(srv.URL, t)
		return err
	}
	return nil
}

// Close shuts down every transport and the shared connection pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	transports := m.transports
	m.transports = make(map[string]Transport)
	m.mu.Unlock()

	for url, t := range transports {
		if err := t.Close(); err != nil {
			m.logger.Warn("closing backend transport",
				zap.String("url", url),
				zap.Error(err))
		}
	}
	m.client.CloseIdleConnections()
	return nil
}
