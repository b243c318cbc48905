// Package discovery maintains the gateway's aggregated tool index and the
// per-backend health records behind it.
package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/cnst"
	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"
	"github.com/KumarDeepankar/mcp-gateway/internal/mcpproxy"
	"github.com/KumarDeepankar/mcp-gateway/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway/pkg/mcp"
	"github.com/KumarDeepankar/mcp-gateway/pkg/metrics"
	"github.com/KumarDeepankar/mcp-gateway/pkg/trace"
)

// ErrToolNotFound is returned when a tool is absent even after a refresh
var ErrToolNotFound = errors.New("tool not found")

// Location records which backend owns a tool and when that was observed.
type Location struct {
	Server       registry.Server
	DiscoveredAt time.Time
}

// Service polls registered backends for their tool inventories and serves
// the merged index. Refreshes serialize behind a mutex; the index is swapped
// wholesale so readers never observe a half-built map.
type Service struct {
	logger  *zap.Logger
	servers registry.Store
	proxy   *mcpproxy.Manager
	metrics *metrics.Metrics
	cfg     config.DiscoveryConfig

	refreshMu sync.Mutex

	indexMu sync.RWMutex
	index   map[string]Location
	tools   []mcp.ToolSchema

	healthMu sync.Mutex
	health   map[string]*ServerHealth

	onRefresh func(toolCount int)
}

// OnRefresh registers a callback invoked after every successful refresh,
// letting the server announce inventory changes to connected streams.
func (s *Service) OnRefresh(fn func(toolCount int)) {
	s.onRefresh = fn
}

// NewService creates a discovery service. Run starts the periodic loops;
// Refresh may also be called directly.
func NewService(logger *zap.Logger, servers registry.Store, proxy *mcpproxy.Manager, m *metrics.Metrics, cfg config.DiscoveryConfig) *Service {
	return &Service{
		logger:  logger.Named("discovery"),
		servers: servers,
		proxy:   proxy,
		metrics: m,
		cfg:     cfg,
		index:   make(map[string]Location),
		health:  make(map[string]*ServerHealth),
	}
}

type fetchResult struct {
	srv   registry.Server
	tools []mcp.ToolSchema
	err   error
}

// Refresh fetches every registered backend's tool list concurrently and
// replaces the tool index with the union. A failing backend never aborts its
// siblings: its previous entries are carried over so tools stay routable
// while it is down, and entries for unregistered backends are purged.
// Collisions on tool name resolve to the last-fetched backend in
// registration order.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	scope := trace.Tracer(cnst.TraceDiscovery).Start(ctx, cnst.SpanDiscoveryRefresh)
	defer scope.End()
	ctx = scope.Ctx

	servers, err := s.servers.List(ctx)
	if err != nil {
		return err
	}

	results := make([]fetchResult, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		i, srv := i, srv
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, s.cfg.FetchTimeout)
			defer cancel()
			tools, err := s.proxy.FetchTools(fctx, srv)
			results[i] = fetchResult{srv: srv, tools: tools, err: err}
			// Failures are isolated per backend, never propagated to the group.
			return nil
		})
	}
	_ = g.Wait()

	registered := make(map[string]registry.Server, len(servers))
	for _, srv := range servers {
		registered[srv.URL] = srv
	}

	now := time.Now()
	next := make(map[string]Location)

	// Carry over entries from backends that failed this cycle, as long as
	// they are still registered.
	failed := make(map[string]bool)
	for _, r := range results {
		if r.err != nil {
			failed[r.srv.URL] = true
		}
	}
	s.indexMu.RLock()
	for name, loc := range s.index {
		if _, ok := registered[loc.Server.URL]; ok && failed[loc.Server.URL] {
			next[name] = loc
		}
	}
	s.indexMu.RUnlock()

	for _, r := range results {
		if r.err != nil {
			s.logger.Warn("tool fetch failed",
				zap.String("url", r.srv.URL),
				zap.Error(r.err))
			s.recordFailure(r.srv.URL, r.err)
			continue
		}
		s.recordSuccess(r.srv.URL)
		for _, tool := range r.tools {
			if prev, ok := next[tool.Name]; ok && prev.Server.URL != r.srv.URL {
				s.logger.Warn("tool name collision, last backend wins",
					zap.String("tool", tool.Name),
					zap.String("kept", r.srv.URL),
					zap.String("shadowed", prev.Server.URL))
			}
			next[tool.Name] = Location{Server: r.srv, DiscoveredAt: now}
		}
	}

	aggregated := make([]mcp.ToolSchema, 0, len(next))
	for _, r := range results {
		if r.err != nil {
			continue
		}
		for _, tool := range r.tools {
			if next[tool.Name].Server.URL != r.srv.URL {
				continue // shadowed by a later backend
			}
			t := tool
			if t.Meta == nil {
				t.Meta = make(map[string]any, 2)
			}
			t.Meta["gateway/backend"] = r.srv.URL
			t.Meta["gateway/discovered_at"] = now.UTC().Format(time.RFC3339)
			aggregated = append(aggregated, t)
		}
	}

	s.indexMu.Lock()
	s.index = next
	s.tools = aggregated
	s.indexMu.Unlock()

	scope.WithAttrs(attribute.Int("mcp.discovery.tool_count", len(next)),
		attribute.Int("mcp.discovery.backend_count", len(servers)))

	s.logger.Info("tool index refreshed",
		zap.Int("backends", len(servers)),
		zap.Int("tools", len(next)))

	if s.onRefresh != nil {
		s.onRefresh(len(next))
	}
	return nil
}

// ToolLocation resolves the backend owning a tool. A miss triggers one
// synchronous refresh before giving up.
func (s *Service) ToolLocation(ctx context.Context, toolName string) (Location, error) {
	if loc, ok := s.lookup(toolName); ok {
		return loc, nil
	}
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("refresh on index miss failed", zap.Error(err))
	}
	if loc, ok := s.lookup(toolName); ok {
		return loc, nil
	}
	return Location{}, ErrToolNotFound
}

func (s *Service) lookup(toolName string) (Location, bool) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	loc, ok := s.index[toolName]
	return loc, ok
}

// Tools returns the aggregated tool list from the last refresh, annotated
// with each tool's owning backend.
func (s *Service) Tools() []mcp.ToolSchema {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	out := make([]mcp.ToolSchema, len(s.tools))
	copy(out, s.tools)
	return out
}

// Run drives the periodic refresh and health-check loops until ctx ends.
// An immediate refresh happens on startup so the gateway does not serve an
// empty index while the first interval elapses.
func (s *Service) Run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.logger.Error("initial refresh failed", zap.Error(err))
	}

	refreshTicker := time.NewTicker(s.cfg.RefreshInterval)
	healthTicker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer refreshTicker.Stop()
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshTicker.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Error("periodic refresh failed", zap.Error(err))
			}
		case <-healthTicker.C:
			s.checkHealth(ctx)
		}
	}
}
