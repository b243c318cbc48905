package mcpproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
	"github.com/KumarDeepankar/mcp-gateway/pkg/version"
)

// Connection states for SSEClient.
const (
	stateDisconnected int32 = iota
	stateConnecting
	stateConnected
	stateClosed
)

// SSEClient maintains a persistent connection to an SSE backend. Responses
// arrive on the event stream, decoupled from the POSTs that caused them, so
// the client correlates them back to callers through a pending-request map.
type SSEClient struct {
	logger  *zap.Logger
	baseURL *url.URL
	client  *http.Client

	connectTimeout time.Duration
	callTimeout    time.Duration

	state atomic.Int32

	mu            sync.Mutex
	endpoint      string
	endpointReady chan struct{}
	pending       map[string]chan *mcp.JSONRPCRawResponse

	done   chan struct{}
	cancel context.CancelFunc

	nextID atomic.Int64
}

var _ Transport = (*SSEClient)(nil)

// NewSSEClient creates a client for the given SSE backend URL. Connect must
// be called before any messages can be sent.
func NewSSEClient(logger *zap.Logger, rawURL string, client *http.Client, connectTimeout, callTimeout time.Duration) (*SSEClient, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse sse backend url %q: %w", rawURL, err)
	}
	return &SSEClient{
		logger:         logger.Named("mcpproxy.sse"),
		baseURL:        base,
		client:         client,
		connectTimeout: connectTimeout,
		callTimeout:    callTimeout,
		endpointReady:  make(chan struct{}),
		pending:        make(map[string]chan *mcp.JSONRPCRawResponse),
		done:           make(chan struct{}),
	}, nil
}

// State returns the current connection state, primarily for tests and
// health reporting.
func (c *SSEClient) State() int32 {
	return c.state.Load()
}

// Connect opens the event stream and blocks until the backend announces its
// message endpoint or the connect timeout expires. A backend that streams
// events but never sends the endpoint event is treated as a failed connect.
func (c *SSEClient) Connect(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateDisconnected, stateConnecting) {
		switch c.state.Load() {
		case stateConnected, stateConnecting:
			return nil
		default:
			return ErrConnectionClosed
		}
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	req, err := http.NewRequestWithContext(listenCtx, http.MethodGet, c.baseURL.String(), nil)
	if err != nil {
		cancel()
		c.state.Store(stateDisconnected)
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		c.state.Store(stateDisconnected)
		return fmt.Errorf("connect sse backend %s: %w", c.baseURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		c.state.Store(stateDisconnected)
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		c.state.Store(stateDisconnected)
		return fmt.Errorf("sse backend %s returned content type %q", c.baseURL, ct)
	}

	go c.listen(resp.Body)

	timeout := c.connectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.endpointReady:
		c.state.Store(stateConnected)
		c.logger.Info("sse backend connected",
			zap.String("url", c.baseURL.String()),
			zap.String("endpoint", c.messageEndpoint()))
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	case <-timer.C:
		c.Close()
		return ErrEndpointNotReceived
	}
}

// listen consumes the event stream until it ends, dispatching responses to
// pending callers. Stream termination fails every in-flight request.
func (c *SSEClient) listen(body io.ReadCloser) {
	defer c.teardown()
	defer body.Close()

	dec := NewFrameDecoder(body, DefaultMaxFrameSize)
	for {
		frame, err := dec.Next()
		if err != nil {
			if err != io.EOF {
				c.logger.Warn("sse stream failed",
					zap.String("url", c.baseURL.String()),
					zap.Error(err))
			}
			return
		}
		switch frame.Event {
		case "endpoint":
			c.setEndpoint(frame.Data)
		case "message", "":
			c.dispatch(frame.Data)
		default:
			c.logger.Debug("ignoring sse event",
				zap.String("event", frame.Event),
				zap.String("url", c.baseURL.String()))
		}
	}
}

// setEndpoint learns the message endpoint from the endpoint event. Backends
// send either a bare path (resolved against the stream URL) or a JSON-RPC
// notification carrying the endpoint in its params.
func (c *SSEClient) setEndpoint(data []byte) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return
	}

	if strings.HasPrefix(raw, "{") {
		var notif struct {
			Params struct {
				URI      string `json:"uri"`
				Endpoint string `json:"endpoint"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &notif); err != nil {
			c.logger.Warn("malformed endpoint event",
				zap.String("url", c.baseURL.String()),
				zap.Error(err))
			return
		}
		if notif.Params.URI != "" {
			raw = notif.Params.URI
		} else {
			raw = notif.Params.Endpoint
		}
		if raw == "" {
			return
		}
	}

	ref, err := url.Parse(raw)
	if err != nil {
		c.logger.Warn("unparseable endpoint",
			zap.String("endpoint", raw),
			zap.Error(err))
		return
	}
	resolved := c.baseURL.ResolveReference(ref).String()

	c.mu.Lock()
	first := c.endpoint == ""
	c.endpoint = resolved
	c.mu.Unlock()

	if first {
		close(c.endpointReady)
	}
}

func (c *SSEClient) messageEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// dispatch routes a received message to its waiting caller. Responses with
// no matching pending request (caller timed out, or backend invented an id)
// are logged and dropped.
func (c *SSEClient) dispatch(data []byte) {
	if len(data) == 0 {
		return
	}
	var raw mcp.JSONRPCRawResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		c.logger.Warn("undecodable message from sse backend",
			zap.String("url", c.baseURL.String()),
			zap.Error(err))
		return
	}
	if raw.ID == nil {
		// Server-initiated notification; the gateway has no consumer for it.
		return
	}

	key := normalizeID(raw.ID)
	c.mu.Lock()
	ch, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("response for unknown request id",
			zap.String("id", key),
			zap.String("url", c.baseURL.String()))
		return
	}
	ch <- &raw
}

// teardown marks the client closed and fails all pending requests.
func (c *SSEClient) teardown() {
	prev := c.state.Swap(stateClosed)
	if prev == stateClosed {
		return
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan *mcp.JSONRPCRawResponse)
	c.mu.Unlock()

	close(c.done)
	for id := range pending {
		// Buffered channels: callers may already be gone.
		close(pending[id])
	}
	if len(pending) > 0 {
		c.logger.Warn("sse connection closed with requests in flight",
			zap.String("url", c.baseURL.String()),
			zap.Int("pending", len(pending)))
	}
}

// nextRequestID allocates a request id from the client's own sequence, so
// forwarded requests cannot collide with the client's handshake and health
// traffic in the pending map.
func (c *SSEClient) nextRequestID() int64 {
	return c.nextID.Add(1)
}

// SendMessage posts a request through the message endpoint and waits for the
// correlated response to arrive on the event stream.
func (c *SSEClient) SendMessage(ctx context.Context, req mcp.JSONRPCRequest) (*mcp.JSONRPCRawResponse, error) {
	if c.state.Load() != stateConnected && c.state.Load() != stateConnecting {
		return nil, ErrNotConnected
	}
	endpoint := c.messageEndpoint()
	if endpoint == "" {
		return nil, ErrNotConnected
	}

	key := normalizeID(req.Id)
	ch := make(chan *mcp.JSONRPCRawResponse, 1)

	c.mu.Lock()
	if _, dup := c.pending[key]; dup {
		c.mu.Unlock()
		return nil, fmt.Errorf("duplicate in-flight request id %s", key)
	}
	c.pending[key] = ch
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}

	if err := c.post(ctx, endpoint, req); err != nil {
		release()
		return nil, err
	}

	timeout := c.callTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return resp, nil
	case <-c.done:
		release()
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	case <-timer.C:
		release()
		return nil, ErrRequestTimeout
	}
}

// SendNotification posts a notification; no response is expected.
func (c *SSEClient) SendNotification(ctx context.Context, notif mcp.JSONRPCNotification) error {
	if c.state.Load() != stateConnected && c.state.Load() != stateConnecting {
		return ErrNotConnected
	}
	endpoint := c.messageEndpoint()
	if endpoint == "" {
		return ErrNotConnected
	}
	return c.post(ctx, endpoint, notif)
}

func (c *SSEClient) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Initialize performs the MCP handshake over the established connection.
func (c *SSEClient) Initialize(ctx context.Context) error {
	params := mcp.InitializeRequestParams{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo: mcp.ImplementationSchema{
			Name:    cnst.AppName,
			Version: version.Get(),
		},
	}
	raw, err := c.SendMessage(ctx, mcp.NewRequest(c.nextID.Add(1), mcp.Initialize, params))
	if err != nil {
		return fmt.Errorf("initialize sse backend %s: %w", c.baseURL, err)
	}
	if raw.Error != nil {
		return fmt.Errorf("initialize sse backend %s: %s (code %d)", c.baseURL, raw.Error.Message, raw.Error.Code)
	}
	return c.SendNotification(ctx, mcp.NewNotification(mcp.NotificationInitialized, nil))
}

// FetchTools implements Transport.
func (c *SSEClient) FetchTools(ctx context.Context) ([]mcp.ToolSchema, error) {
	raw, err := c.SendMessage(ctx, mcp.NewRequest(c.nextID.Add(1), mcp.ToolsList, nil))
	if err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("tools/list from %s: %s (code %d)", c.baseURL, raw.Error.Message, raw.Error.Code)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw.Result, &result); err != nil {
		return nil, &ParseError{URL: c.baseURL.String(), Err: err}
	}
	return result.Tools, nil
}

// CallTool implements Transport.
func (c *SSEClient) CallTool(ctx context.Context, params mcp.CallToolParams) (*mcp.CallToolResult, error) {
	raw, err := c.SendMessage(ctx, mcp.NewRequest(c.nextID.Add(1), mcp.ToolsCall, params))
	if err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("tools/call %s on %s: %s (code %d)", params.Name, c.baseURL, raw.Error.Message, raw.Error.Code)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw.Result, &result); err != nil {
		return nil, &ParseError{URL: c.baseURL.String(), Err: err}
	}
	return &result, nil
}

// Ping implements Transport.
func (c *SSEClient) Ping(ctx context.Context) error {
	raw, err := c.SendMessage(ctx, mcp.NewRequest(c.nextID.Add(1), mcp.Ping, nil))
	if err != nil {
		return err
	}
	if raw.Error != nil {
		return fmt.Errorf("ping %s: %s (code %d)", c.baseURL, raw.Error.Message, raw.Error.Code)
	}
	return nil
}

// Close implements Transport. Closing twice is safe.
func (c *SSEClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.teardown()
	return nil
}

// normalizeID renders a JSON-RPC id in canonical string form so numeric ids
// survive the float64 round-trip through encoding/json.
func normalizeID(id any) string {
	switch v := id.(type) {
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
