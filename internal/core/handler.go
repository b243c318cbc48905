package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/auth"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/discovery"
	"github.com/KumarDeepankar/mcp-gateway/internal/mcpproxy"
	"github.com/KumarDeepankar/mcp-gateway/internal/session"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
	"github.com/KumarDeepankar/mcp-gateway/pkg/trace"
	"github.com/KumarDeepankar/mcp-gateway/pkg/version"
)

// methodHandler handles one JSON-RPC method for an established session.
type methodHandler func(c *gin.Context, sess *session.Meta, req mcp.JSONRPCRequest)

// dispatch routes a parsed request to its method handler, with a span and
// request metrics around the call. Unknown methods are a JSON-RPC error,
// not an HTTP one.
func (s *Server) dispatch(c *gin.Context, sess *session.Meta, req mcp.JSONRPCRequest) {
	handler, ok := s.handlers[req.Method]
	if !ok {
		s.sendRPCError(c, req.Id, mcp.ErrorCodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method))
		return
	}

	scope := trace.Tracer(cnst.TraceCore).Start(c.Request.Context(), cnst.SpanMCPMethodPrefix+req.Method).
		WithAttrs(
			attribute.String(cnst.AttrMCPMethod, req.Method),
			attribute.String(cnst.AttrMCPSessionID, sess.ID),
		)
	defer scope.End()
	c.Request = c.Request.WithContext(scope.Ctx)

	start := time.Now()
	if s.metrics != nil {
		s.metrics.McpReqStart(req.Method)
		defer s.metrics.McpReqDone(req.Method, start)
	}

	handler(c, sess, req)
}

func (s *Server) handleNotificationInitialized(c *gin.Context, sess *session.Meta, _ mcp.JSONRPCRequest) {
	if err := s.sessions.MarkInitialized(c.Request.Context(), sess.ID); err != nil {
		s.logger.Warn("marking session initialized",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handlePing(c *gin.Context, _ *session.Meta, req mcp.JSONRPCRequest) {
	s.sendSuccessResponse(c, req, map[string]any{})
}

// handleToolsList returns the aggregated index; every entry already carries
// its owning backend and discovery timestamp from the last refresh.
func (s *Server) handleToolsList(c *gin.Context, _ *session.Meta, req mcp.JSONRPCRequest) {
	tools := s.discovery.Tools()
	s.sendSuccessResponse(c, req, mcp.ListToolsResult{Tools: tools})
}

func (s *Server) handleToolsCall(c *gin.Context, sess *session.Meta, req mcp.JSONRPCRequest) {
	var params mcp.CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.sendRPCError(c, req.Id, mcp.ErrorCodeInvalidParams, "invalid tools/call params")
		return
	}

	ctx := c.Request.Context()
	principal := auth.Principal{
		Subject:   sess.ClientInfo.Name,
		SessionID: sess.ID,
	}

	loc, err := s.discovery.ToolLocation(ctx, params.Name)
	if err == discovery.ErrToolNotFound {
		s.sendRPCError(c, req.Id, mcp.ErrorCodeMethodNotFound,
			fmt.Sprintf("tool not found: %s", params.Name))
		return
	}
	if err != nil {
		s.sendRPCError(c, req.Id, mcp.ErrorCodeGatewayError, "tool lookup failed")
		return
	}

	if !s.authz.CanExecute(ctx, principal, loc.Server.URL, params.Name) {
		s.logger.Warn("tool call denied",
			zap.String("session_id", sess.ID),
			zap.String("tool", params.Name),
			zap.String("backend", loc.Server.URL))
		s.sendRPCError(c, req.Id, mcp.ErrorCodeAccessDenied,
			fmt.Sprintf("access denied: %s", params.Name))
		return
	}

	s.notifyProgress(sess.ID, fmt.Sprintf("forwarding %s to backend", params.Name))

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Forward.CallTimeout)
	defer cancel()

	// Notifications the backend emits mid-call are pushed straight to the
	// caller's open streams; only the correlated response answers the POST.
	relay := func(data []byte) {
		for _, streamID := range s.streams.ForSession(sess.ID) {
			s.msgRouter.Send(streamID, data)
		}
	}

	start := time.Now()
	result, err := s.proxy.CallTool(callCtx, loc.Server, params, relay)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ToolCallDone(params.Name, start, "error")
		}
		s.logger.Warn("tool call failed",
			zap.String("tool", params.Name),
			zap.String("backend", loc.Server.URL),
			zap.Error(err))
		var parseErr *mcpproxy.ParseError
		if errors.As(err, &parseErr) {
			s.sendRPCError(c, req.Id, mcp.ErrorCodeResponseParsing,
				"failed to parse backend response")
			return
		}
		s.sendToolExecutionError(c, req, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ToolCallDone(params.Name, start, "ok")
	}
	s.sendSuccessResponse(c, req, result)
}

// notifyProgress pushes a forwarding-status notification to every open
// stream of the session. Delivery is best-effort.
func (s *Server) notifyProgress(sessionID, message string) {
	params, _ := json.Marshal(map[string]any{"message": message})
	data, err := json.Marshal(mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  mcp.NotificationGatewayProgress,
		Params:  params,
	})
	if err != nil {
		return
	}
	for _, streamID := range s.streams.ForSession(sessionID) {
		s.msgRouter.Send(streamID, data)
	}
}

// handleInitialize creates the session and negotiates the protocol version:
// a supported requested version is echoed back, anything else gets the
// latest the gateway speaks.
func (s *Server) handleInitialize(c *gin.Context, req mcp.JSONRPCRequest) {
	var params mcp.InitializeRequestParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendProtocolError(c, req.Id, http.StatusBadRequest,
				mcp.ErrorCodeInvalidParams, "invalid initialize params")
			return
		}
	}

	negotiated := mcp.LatestProtocolVersion
	if mcp.IsSupportedProtocolVersion(params.ProtocolVersion) {
		negotiated = params.ProtocolVersion
	}

	sess, err := s.sessions.Create(c.Request.Context(), params.ClientInfo, negotiated)
	if err != nil {
		s.sendProtocolError(c, req.Id, http.StatusInternalServerError,
			mcp.ErrorCodeInternalError, "failed to create session")
		return
	}

	c.Header(mcp.HeaderMcpSessionID, sess.ID)
	s.sendSuccessResponse(c, req, mcp.InitializedResult{
		ProtocolVersion: negotiated,
		Capabilities: mcp.ServerCapabilitiesSchema{
			Logging: map[string]any{},
			Tools:   mcp.ToolsCapabilitySchema{ListChanged: true},
		},
		ServerInfo: mcp.ImplementationSchema{
			Name:    cnst.AppName,
			Version: version.Get(),
		},
	})
}
