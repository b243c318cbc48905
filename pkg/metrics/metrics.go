package metrics

import (
	"strconv"
	"time"

	"github.com/KumarDeepankar/mcp-gateway/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's prometheus series behind an explicitly-owned
// registry, injected into the HTTP server rather than registered globally.
type Metrics struct {
	registry    *prometheus.Registry
	httpReqCnt  *prometheus.CounterVec
	httpDur     *prometheus.HistogramVec
	mcpReqCnt   *prometheus.CounterVec
	mcpReqDur   *prometheus.HistogramVec
	mcpReqInfl  *prometheus.GaugeVec
	toolCallCnt *prometheus.CounterVec
	toolCallDur *prometheus.HistogramVec
	streamsOpen prometheus.Gauge
	backendUp   *prometheus.GaugeVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	if ns == "" {
		ns = "mcp_gateway"
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: buckets}, []string{"method", "status"})
	r.MustRegister(httpReqCnt, httpDur)

	mcpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "mcp_requests_total"}, []string{"method"})
	mcpReqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "mcp_request_duration_seconds", Buckets: buckets}, []string{"method"})
	mcpReqInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "mcp_requests_inflight"}, []string{"method"})
	r.MustRegister(mcpReqCnt, mcpReqDur, mcpReqInfl)

	toolCallCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tool_call_total"}, []string{"tool_name", "status"})
	toolCallDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "tool_call_duration_seconds", Buckets: buckets}, []string{"tool_name", "status"})
	r.MustRegister(toolCallCnt, toolCallDur)

	streamsOpen := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sse_streams_open"})
	backendUp := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "backend_healthy"}, []string{"backend"})
	r.MustRegister(streamsOpen, backendUp)

	return &Metrics{
		registry:    r,
		httpReqCnt:  httpReqCnt,
		httpDur:     httpDur,
		mcpReqCnt:   mcpReqCnt,
		mcpReqDur:   mcpReqDur,
		mcpReqInfl:  mcpReqInfl,
		toolCallCnt: toolCallCnt,
		toolCallDur: toolCallDur,
		streamsOpen: streamsOpen,
		backendUp:   backendUp,
	}
}

// Handler returns the gin handler serving this registry.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// HTTPMiddleware records request counts and durations per HTTP method.
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, status).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) McpReqStart(method string) {
	m.mcpReqInfl.WithLabelValues(method).Inc()
}

func (m *Metrics) McpReqDone(method string, start time.Time) {
	m.mcpReqInfl.WithLabelValues(method).Dec()
	m.mcpReqCnt.WithLabelValues(method).Inc()
	m.mcpReqDur.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ToolCallDone(tool string, start time.Time, status string) {
	m.toolCallCnt.WithLabelValues(tool, status).Inc()
	m.toolCallDur.WithLabelValues(tool, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) StreamOpened() { m.streamsOpen.Inc() }
func (m *Metrics) StreamClosed() { m.streamsOpen.Dec() }

// SetBackendHealthy exposes per-backend health as a 0/1 gauge.
func (m *Metrics) SetBackendHealthy(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.backendUp.WithLabelValues(backend).Set(v)
}
