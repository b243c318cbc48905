package mcpproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
	"github.com/KumarDeepankar/mcp-gateway/pkg/version"
)

// maxForwardBody caps how much of a backend's non-streaming response body
// the gateway will re-frame into a client stream.
const maxForwardBody = 4 << 20 // 4 MiB

// forwardChunkSize is the read granularity when draining a backend body.
const forwardChunkSize = 16 << 10

// StreamableTransport speaks to a backend over plain request/response HTTP:
// every JSON-RPC message is a POST and the reply arrives in the response
// body, either as a JSON document or as a single SSE-framed message.
type StreamableTransport struct {
	logger  *zap.Logger
	url     string
	client  *http.Client
	timeout time.Duration

	mu        sync.Mutex
	sessionID string

	nextID atomic.Int64
}

var _ Transport = (*StreamableTransport)(nil)

// NewStreamableTransport creates a transport for the given backend URL. The
// http.Client is shared across transports so connection pooling stays bounded
// at the process level.
func NewStreamableTransport(logger *zap.Logger, url string, client *http.Client, callTimeout time.Duration) *StreamableTransport {
	return &StreamableTransport{
		logger:  logger.Named("mcpproxy.streamable"),
		url:     url,
		client:  client,
		timeout: callTimeout,
	}
}

// ensureSession performs the initialize handshake if the transport has no
// backend session yet. Some backends issue an Mcp-Session-Id on initialize
// and require it on every subsequent request; others run stateless.
func (t *StreamableTransport) ensureSession(ctx context.Context) error {
	t.mu.Lock()
	if t.sessionID != "" {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	params := mcp.InitializeRequestParams{
		ProtocolVersion: mcp.LatestProtocolVersion,
		ClientInfo: mcp.ImplementationSchema{
			Name:    cnst.AppName,
			Version: version.Get(),
		},
	}
	req := mcp.NewRequest(t.nextID.Add(1), mcp.Initialize, params)

	raw, sessionID, err := t.post(ctx, req, "")
	if err != nil {
		return fmt.Errorf("initialize backend %s: %w", t.url, err)
	}
	if raw.Error != nil {
		return fmt.Errorf("initialize backend %s: %s (code %d)", t.url, raw.Error.Message, raw.Error.Code)
	}

	t.mu.Lock()
	t.sessionID = sessionID
	t.mu.Unlock()

	notif := mcp.NewNotification(mcp.NotificationInitialized, nil)
	if err := t.notify(ctx, notif, sessionID); err != nil {
		t.logger.Warn("initialized notification rejected",
			zap.String("url", t.url),
			zap.Error(err))
	}
	return nil
}

func (t *StreamableTransport) currentSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *StreamableTransport) resetSession() {
	t.mu.Lock()
	t.sessionID = ""
	t.mu.Unlock()
}

// call sends a request and returns the correlated raw response. A 404 means
// the backend dropped our session; the handshake is redone once.
func (t *StreamableTransport) call(ctx context.Context, method string, params any) (*mcp.JSONRPCRawResponse, error) {
	if err := t.ensureSession(ctx); err != nil {
		return nil, err
	}

	req := mcp.NewRequest(t.nextID.Add(1), method, params)
	raw, _, err := t.post(ctx, req, t.currentSession())
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			t.logger.Info("backend session expired, re-initializing",
				zap.String("url", t.url))
			t.resetSession()
			if err := t.ensureSession(ctx); err != nil {
				return nil, err
			}
			raw, _, err = t.post(ctx, req, t.currentSession())
		}
		if err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// FetchTools implements Transport.
func (t *StreamableTransport) FetchTools(ctx context.Context) ([]mcp.ToolSchema, error) {
	raw, err := t.call(ctx, mcp.ToolsList, nil)
	if err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("tools/list from %s: %s (code %d)", t.url, raw.Error.Message, raw.Error.Code)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw.Result, &result); err != nil {
		return nil, &ParseError{URL: t.url, Err: err}
	}
	return result.Tools, nil
}

// CallTool implements Transport.
func (t *StreamableTransport) CallTool(ctx context.Context, params mcp.CallToolParams) (*mcp.CallToolResult, error) {
	raw, err := t.call(ctx, mcp.ToolsCall, params)
	if err != nil {
		return nil, err
	}
	if raw.Error != nil {
		return nil, fmt.Errorf("tools/call %s on %s: %s (code %d)", params.Name, t.url, raw.Error.Message, raw.Error.Code)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw.Result, &result); err != nil {
		return nil, &ParseError{URL: t.url, Err: err}
	}
	return &result, nil
}

// Ping implements Transport.
func (t *StreamableTransport) Ping(ctx context.Context) error {
	raw, err := t.call(ctx, mcp.Ping, nil)
	if err != nil {
		return err
	}
	if raw.Error != nil {
		return fmt.Errorf("ping %s: %s (code %d)", t.url, raw.Error.Message, raw.Error.Code)
	}
	return nil
}

// Close implements Transport. Plain HTTP holds no persistent state beyond
// the shared connection pool.
func (t *StreamableTransport) Close() error {
	t.resetSession()
	return nil
}

// post sends one JSON-RPC message and decodes the single response message
// from the body, whether it arrives as raw JSON or wrapped in an SSE frame.
func (t *StreamableTransport) post(ctx context.Context, req mcp.JSONRPCRequest, sessionID string) (*mcp.JSONRPCRawResponse, string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set(mcp.HeaderMcpSessionID, sessionID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, "", &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	newSession := resp.Header.Get(mcp.HeaderMcpSessionID)

	contentType := resp.Header.Get("Content-Type")
	var raw mcp.JSONRPCRawResponse
	switch {
	case strings.HasPrefix(contentType, "text/event-stream"):
		dec := NewFrameDecoder(resp.Body, DefaultMaxFrameSize)
		for {
			frame, err := dec.Next()
			if err == io.EOF {
				return nil, "", fmt.Errorf("backend %s closed stream without a response", t.url)
			}
			if err != nil {
				return nil, "", err
			}
			if len(frame.Data) == 0 {
				continue
			}
			if err := json.Unmarshal(frame.Data, &raw); err != nil {
				return nil, "", &ParseError{URL: t.url, Err: err}
			}
			// Notifications carry no id; keep reading for our response.
			if raw.ID == nil {
				continue
			}
			return &raw, newSession, nil
		}
	default:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, "", err
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, "", &ParseError{URL: t.url, Err: err}
		}
		return &raw, newSession, nil
	}
}

// stream sends a request and hands every message the backend returns to
// emit, notifications included, instead of collapsing the body down to the
// one correlated response. Session handling mirrors call: a 404 redoes the
// handshake and retries once, which is safe because the status is known
// before any frame is emitted.
func (t *StreamableTransport) stream(ctx context.Context, req mcp.JSONRPCRequest, emit func(WireFrame) error) error {
	if err := t.ensureSession(ctx); err != nil {
		return err
	}

	err := t.streamOnce(ctx, req, emit)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			t.logger.Info("backend session expired, re-initializing",
				zap.String("url", t.url))
			t.resetSession()
			if err := t.ensureSession(ctx); err != nil {
				return err
			}
			return t.streamOnce(ctx, req, emit)
		}
	}
	return err
}

func (t *StreamableTransport) streamOnce(ctx context.Context, req mcp.JSONRPCRequest, emit func(WireFrame) error) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID := t.currentSession(); sessionID != "" {
		httpReq.Header.Set(mcp.HeaderMcpSessionID, sessionID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(msg)),
		}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		dec := NewFrameDecoder(resp.Body, DefaultMaxFrameSize)
		for {
			frame, err := dec.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if len(frame.Data) == 0 {
				continue
			}
			if err := emit(WireFrame{Event: frame.Event, Data: frame.Data}); err != nil {
				return err
			}
		}
	}

	var buf bytes.Buffer
	chunk := make([]byte, forwardChunkSize)
	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			if buf.Len()+n > maxForwardBody {
				return fmt.Errorf("backend response from %s exceeds %d bytes", t.url, maxForwardBody)
			}
			buf.Write(chunk[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}
	return emit(WireFrame{Event: "message", Data: buf.Bytes()})
}

// notify sends a fire-and-forget notification; 2xx is enough.
func (t *StreamableTransport) notify(ctx context.Context, notif mcp.JSONRPCNotification, sessionID string) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		httpReq.Header.Set(mcp.HeaderMcpSessionID, sessionID)
	}

	resp, err := t.client.Do(httpReq)
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
