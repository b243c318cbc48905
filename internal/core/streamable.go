package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/session"
	"github.com/KumarDeepankar/mcp-gateway/internal/stream"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
)

const (
	// keepaliveInterval paces comment frames on idle client streams so
	// intermediaries do not reap the connection.
	keepaliveInterval = 15 * time.Second

	// maxRequestBody bounds a client POST body.
	maxRequestBody = 4 << 20
)

func acceptsBoth(accept string) bool {
	return acceptsEventStream(accept) && (strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*"))
}

func acceptsEventStream(accept string) bool {
	return strings.Contains(accept, "text/event-stream") || strings.Contains(accept, "*/*")
}

// sessionFromHeader validates the Mcp-Session-Id header and resolves the
// session. Protocol violations get 400; an unknown session gets 404,
// distinct from any JSON-RPC-level error.
func (s *Server) sessionFromHeader(c *gin.Context) (*session.Meta, bool) {
	id := c.GetHeader(mcp.HeaderMcpSessionID)
	if id == "" {
		s.sendProtocolError(c, nil, http.StatusBadRequest,
			mcp.ErrorCodeInvalidRequest, "missing Mcp-Session-Id header")
		return nil, false
	}
	if !mcp.IsVisibleASCII(id) {
		s.sendProtocolError(c, nil, http.StatusBadRequest,
			mcp.ErrorCodeInvalidRequest, "malformed Mcp-Session-Id header")
		return nil, false
	}
	sess, err := s.sessions.Get(c.Request.Context(), id)
	if err != nil {
		s.sendProtocolError(c, nil, http.StatusNotFound,
			mcp.ErrorCodeInvalidRequest, "session not found")
		return nil, false
	}
	return sess, true
}

// validateProtocolVersion enforces the MCP-Protocol-Version header when
// present; absence means the latest version.
func (s *Server) validateProtocolVersion(c *gin.Context) bool {
	v := c.GetHeader(mcp.HeaderProtocolVersion)
	if v == "" || mcp.IsSupportedProtocolVersion(v) {
		return true
	}
	s.sendProtocolError(c, nil, http.StatusBadRequest, mcp.ErrorCodeInvalidRequest,
		fmt.Sprintf("unsupported protocol version: %s", v))
	return false
}

// handlePost processes one client JSON-RPC message.
func (s *Server) handlePost(c *gin.Context) {
	if !acceptsBoth(c.GetHeader("Accept")) {
		s.sendProtocolError(c, nil, http.StatusNotAcceptable, mcp.ErrorCodeInvalidRequest,
			"Accept must include application/json and text/event-stream")
		return
	}
	if ct := c.GetHeader("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		s.sendProtocolError(c, nil, http.StatusUnsupportedMediaType,
			mcp.ErrorCodeInvalidRequest, "Content-Type must be application/json")
		return
	}
	if !s.validateProtocolVersion(c) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		s.sendProtocolError(c, nil, http.StatusBadRequest,
			mcp.ErrorCodeParseError, "failed to read request body")
		return
	}

	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendProtocolError(c, nil, http.StatusBadRequest,
			mcp.ErrorCodeParseError, "invalid JSON-RPC payload")
		return
	}
	if req.JSONRPC != mcp.JSONRPCVersion || req.Method == "" {
		s.sendProtocolError(c, req.Id, http.StatusBadRequest,
			mcp.ErrorCodeInvalidRequest, "not a JSON-RPC 2.0 request")
		return
	}

	// initialize is the one method allowed without a session.
	if req.Method == mcp.Initialize {
		s.handleInitialize(c, req)
		return
	}

	sess, ok := s.sessionFromHeader(c)
	if !ok {
		return
	}
	s.dispatch(c, sess, req)
}

// handleGet opens the session's server-to-client event stream. A reconnect
// carrying Last-Event-ID resumes the original stream: missed events are
// replayed from the event log before live delivery begins.
func (s *Server) handleGet(c *gin.Context) {
	if !acceptsEventStream(c.GetHeader("Accept")) {
		s.sendProtocolError(c, nil, http.StatusNotAcceptable, mcp.ErrorCodeInvalidRequest,
			"Accept must include text/event-stream")
		return
	}
	if !s.validateProtocolVersion(c) {
		return
	}
	sess, ok := s.sessionFromHeader(c)
	if !ok {
		return
	}

	streamID := uuid.New().String()
	resumed := false
	lastEventID := c.GetHeader(mcp.HeaderLastEventID)
	if lastEventID != "" {
		if origStream, _, ok := stream.ParseEventID(lastEventID); ok {
			// Resume the original stream so its log keeps accumulating
			// under one id, but only for the session that owns it. An id
			// minted for another session's stream gets a fresh stream with
			// no replay.
			if owner, known := s.streams.Owner(origStream); known && owner == sess.ID {
				streamID = origStream
				resumed = true
			}
		}
	}

	if err := s.streams.Register(streamID, sess.ID, "sse"); err != nil {
		s.sendProtocolError(c, nil, http.StatusConflict,
			mcp.ErrorCodeInvalidRequest, "stream already open")
		return
	}
	s.msgRouter.Bind(streamID)
	if s.metrics != nil {
		s.metrics.StreamOpened()
	}
	defer func() {
		s.streams.Unregister(streamID)
		s.msgRouter.Release(streamID)
		if s.metrics != nil {
			s.metrics.StreamClosed()
		}
	}()

	// The replay snapshot is taken after the queue exists, so an event
	// appended in between lands in at least one of the two. Any event that
	// landed in both is dropped from the live queue by the counter cutoff.
	var replay []stream.Event
	var replayCutoff uint64
	if resumed {
		replay = s.events.ReplayAfter(streamID, lastEventID)
		if len(replay) > 0 {
			if _, n, ok := stream.ParseEventID(replay[len(replay)-1].ID); ok {
				replayCutoff = n
			}
		}
	}

	s.logger.Info("stream opened",
		zap.String("stream_id", streamID),
		zap.String("session_id", sess.ID),
		zap.Bool("resumed", resumed))

	writeSSEHeaders(c)
	for _, ev := range replay {
		fmt.Fprintf(c.Writer, "id: %s\nevent: message\ndata: %s\n\n", ev.ID, ev.Message)
	}
	c.Writer.Flush()

	// Cancel the dequeue wait when the process shuts down, so drain does not
	// stall behind a full keepalive interval.
	ctx, cancelWait := context.WithCancel(c.Request.Context())
	defer cancelWait()
	go func() {
		select {
		case <-s.shutdownCh:
			cancelWait()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			fmt.Fprint(c.Writer, ": server shutting down\n\n")
			c.Writer.Flush()
			return
		default:
		}

		ev, ok := s.msgRouter.Next(ctx, streamID, keepaliveInterval)
		if !ok {
			// Either idle timeout or the stream was released under us.
			if !s.streams.IsRegistered(streamID) {
				return
			}
			fmt.Fprint(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
			continue
		}
		if _, n, ok := stream.ParseEventID(ev.ID); ok && n <= replayCutoff {
			// Already delivered by the replay above.
			continue
		}
		fmt.Fprintf(c.Writer, "id: %s\nevent: message\ndata: %s\n\n", ev.ID, ev.Message)
		c.Writer.Flush()
	}
}

// handleDelete terminates the session explicitly. Terminating twice reports
// not-found rather than succeeding silently.
func (s *Server) handleDelete(c *gin.Context) {
	id := c.GetHeader(mcp.HeaderMcpSessionID)
	if id == "" || !mcp.IsVisibleASCII(id) {
		s.sendProtocolError(c, nil, http.StatusBadRequest,
			mcp.ErrorCodeInvalidRequest, "missing or malformed Mcp-Session-Id header")
		return
	}

	if err := s.sessions.Terminate(c.Request.Context(), id); err != nil {
		if err == session.ErrSessionNotFound {
			s.sendProtocolError(c, nil, http.StatusNotFound,
				mcp.ErrorCodeInvalidRequest, "session not found")
			return
		}
		s.sendProtocolError(c, nil, http.StatusInternalServerError,
			mcp.ErrorCodeInternalError, "failed to terminate session")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "terminated"})
}
