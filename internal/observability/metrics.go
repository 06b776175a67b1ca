package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "iahome"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	inflight        prometheus.Gauge
	reconciliations *prometheus.CounterVec
	welcomeGrants   *prometheus.CounterVec
	activations     *prometheus.CounterVec
	accessTokens    *prometheus.CounterVec
}

// NewMetrics registers collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served",
		}),
		reconciliations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "profile_reconciliations_total",
				Help:      "Profile reconciliations by resolution and outcome",
			},
			[]string{"resolution", "outcome"},
		),
		welcomeGrants: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "welcome_grants_total",
				Help:      "Welcome grant attempts by outcome",
			},
			[]string{"outcome"},
		),
		activations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "module_activations_total",
				Help:      "Module activation attempts by outcome",
			},
			[]string{"outcome"},
		),
		accessTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "module_access_tokens_total",
				Help:      "Module access tokens issued by outcome",
			},
			[]string{"outcome"},
		),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestDuration,
		m.inflight,
		m.reconciliations,
		m.welcomeGrants,
		m.activations,
		m.accessTokens,
	)
	return m
}

// Middleware records request latency keyed by the matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordReconciliation(resolution string, outcome string) {
	if m == nil {
		return
	}
	if resolution == "" {
		resolution = "none"
	}
	m.reconciliations.WithLabelValues(resolution, outcome).Inc()
}

// RecordWelcomeGrant counts "created", "existing" or "failed" grant outcomes.
func (m *Metrics) RecordWelcomeGrant(outcome string) {
	if m == nil {
		return
	}
	m.welcomeGrants.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordActivation(outcome string) {
	if m == nil {
		return
	}
	m.activations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAccessToken(outcome string) {
	if m == nil {
		return
	}
	m.accessTokens.WithLabelValues(outcome).Inc()
}
