package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/KumarDeepankar/mcp-gateway/internal/registry"
)

// ServerHealth tracks one backend's recent contact history. It is mutated
// only by that backend's own fetch and health-check paths.
type ServerHealth struct {
	URL                 string    `json:"url"`
	LastSuccess         time.Time `json:"last_success"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Healthy             bool      `json:"is_healthy"`
	LastError           string    `json:"last_error,omitempty"`
}

func (s *Service) recordSuccess(url string) {
	s.healthMu.Lock()
	h := s.healthEntry(url)
	now := time.Now()
	h.LastSuccess = now
	h.LastCheck = now
	h.ConsecutiveFailures = 0
	h.Healthy = true
	h.LastError = ""
	s.healthMu.Unlock()

	if s.metrics != nil {
		s.metrics.SetBackendHealthy(url, true)
	}
}

func (s *Service) recordFailure(url string, err error) {
	s.healthMu.Lock()
	h := s.healthEntry(url)
	h.LastCheck = time.Now()
	h.ConsecutiveFailures++
	h.LastError = err.Error()
	wentUnhealthy := false
	if h.ConsecutiveFailures >= s.cfg.FailureThreshold && h.Healthy {
		h.Healthy = false
		wentUnhealthy = true
	}
	failures := h.ConsecutiveFailures
	healthy := h.Healthy
	s.healthMu.Unlock()

	if wentUnhealthy {
		s.logger.Warn("backend marked unhealthy",
			zap.String("url", url),
			zap.Int("consecutive_failures", failures))
	}
	if s.metrics != nil {
		s.metrics.SetBackendHealthy(url, healthy)
	}
}

// healthEntry returns (creating if needed) the record for a backend. Caller
// holds healthMu.
func (s *Service) healthEntry(url string) *ServerHealth {
	h, ok := s.health[url]
	if !ok {
		h = &ServerHealth{URL: url, Healthy: true}
		s.health[url] = h
	}
	return h
}

// checkHealth probes every backend whose last successful contact is older
// than the stale threshold. Backends contacted recently are left alone.
func (s *Service) checkHealth(ctx context.Context) {
	servers, err := s.servers.List(ctx)
	if err != nil {
		s.logger.Error("listing servers for health check", zap.Error(err))
		return
	}

	stale := make([]registry.Server, 0, len(servers))
	s.healthMu.Lock()
	for _, srv := range servers {
		h := s.healthEntry(srv.URL)
		if time.Since(h.LastSuccess) > s.cfg.StaleThreshold {
			stale = append(stale, srv)
		}
	}
	// Drop records for backends that were unregistered.
	registered := make(map[string]bool, len(servers))
	for _, srv := range servers {
		registered[srv.URL] = true
	}
	for url := range s.health {
		if !registered[url] {
			delete(s.health, url)
		}
	}
	s.healthMu.Unlock()

	for _, srv := range stale {
		pctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		err := s.proxy.Probe(pctx, srv)
		cancel()
		if err != nil {
			s.recordFailure(srv.URL, err)
			continue
		}
		s.recordSuccess(srv.URL)
	}
}

// Health returns a snapshot of every backend's health record.
func (s *Service) Health() []ServerHealth {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	out := make([]ServerHealth, 0, len(s.health))
	for _, h := range s.health {
		out = append(out, *h)
	}
	return out
}
