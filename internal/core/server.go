// Package core implements the gateway's client-facing protocol surface:
// the /mcp endpoint in its three verbs, session handling and the SSE
// emission loop behind each client stream.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/auth"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/internal/discovery"
	"github.com/KumarDeepankar/mcp-gateway/internal/mcpproxy"
	"github.com/KumarDeepankar/mcp-gateway/internal/session"
	"github.com/KumarDeepankar/mcp-gateway/internal/stream"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
	"github.com/KumarDeepankar/mcp-gateway/pkg/metrics"
)

// Server is the gateway HTTP server.
type Server struct {
	logger    *zap.Logger
	cfg       *config.GatewayConfig
	engine    *gin.Engine
	sessions  *session.Registry
	streams   *stream.Manager
	events    *stream.EventLog
	msgRouter *stream.Router
	discovery *discovery.Service
	proxy     *mcpproxy.Manager
	authz     auth.Authorizer
	metrics   *metrics.Metrics

	handlers map[string]methodHandler

	httpSrv      *http.Server
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewServer wires the gateway's components into an HTTP server. The caller
// owns the lifecycles of the stores behind sessions and discovery.
func NewServer(
	logger *zap.Logger,
	cfg *config.GatewayConfig,
	sessions *session.Registry,
	streams *stream.Manager,
	events *stream.EventLog,
	msgRouter *stream.Router,
	disc *discovery.Service,
	proxy *mcpproxy.Manager,
	authz auth.Authorizer,
	m *metrics.Metrics,
) *Server {
	if authz == nil {
		authz = auth.AllowAll{}
	}
	s := &Server{
		logger:     logger.Named("core"),
		cfg:        cfg,
		sessions:   sessions,
		streams:    streams,
		events:     events,
		msgRouter:  msgRouter,
		discovery:  disc,
		proxy:      proxy,
		authz:      authz,
		metrics:    m,
		shutdownCh: make(chan struct{}),
	}
	s.handlers = map[string]methodHandler{
		mcp.NotificationInitialized: s.handleNotificationInitialized,
		mcp.Ping:                    s.handlePing,
		mcp.ToolsList:               s.handleToolsList,
		mcp.ToolsCall:               s.handleToolsCall,
	}

	disc.OnRefresh(s.broadcastToolsRefresh)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(s.loggerMiddleware(), s.recoveryMiddleware())
	if m != nil {
		engine.Use(m.HTTPMiddleware())
	}
	s.engine = engine
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health_check", s.handleHealthCheck)
	if s.metrics != nil && s.cfg.Metrics.Enabled {
		s.engine.GET("/metrics", s.metrics.Handler())
	}

	mcpGroup := s.engine.Group("/mcp", s.originMiddleware())
	mcpGroup.GET("", s.handleGet)
	mcpGroup.POST("", s.handlePost)
	mcpGroup.DELETE("", s.handleDelete)
}

// handleHealthCheck reports process liveness plus per-backend health.
func (s *Server) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"backends": s.discovery.Health(),
	})
}

// broadcastToolsRefresh pushes the periodic index-size heartbeat to every
// open stream.
func (s *Server) broadcastToolsRefresh(toolCount int) {
	params, _ := json.Marshal(map[string]any{"tool_count": toolCount})
	notif := mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  mcp.NotificationToolsRefresh,
		Params:  params,
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return
	}
	for _, streamID := range s.streams.All() {
		s.msgRouter.Send(streamID, data)
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.engine,
	}
	s.logger.Info("gateway listening", zap.Int("port", s.cfg.Port))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains open SSE loops and stops accepting connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
	})
	// Give emission loops a beat to observe the signal and finish their
	// response bodies before the listener closes.
	time.Sleep(100 * time.Millisecond)
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Engine exposes the underlying router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
