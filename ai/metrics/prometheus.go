// Package metrics provides Prometheus metrics export for the chat backend.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusExporter exports backend metrics in Prometheus format.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Chat surface
	chatRequests *prometheus.CounterVec
	chatLatency  *prometheus.HistogramVec

	// LLM providers
	llmRequests  *prometheus.CounterVec
	llmLatency   *prometheus.HistogramVec
	llmTokens    *prometheus.CounterVec
	llmFailovers *prometheus.CounterVec

	// Background worker
	workerTicks       prometheus.Counter
	summaries         *prometheus.CounterVec
	profileRefreshes  *prometheus.CounterVec
	summaryQueueDepth prometheus.Gauge

	// Store
	storeDegraded prometheus.Gauge
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.chatRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of chat requests",
		},
		[]string{"mode", "status"},
	)

	e.chatLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskpet",
			Subsystem: "chat",
			Name:      "latency_seconds",
			Help:      "Chat request latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"mode"},
	)

	e.llmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of upstream LLM calls",
		},
		[]string{"provider", "status"},
	)

	e.llmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "deskpet",
			Subsystem: "llm",
			Name:      "latency_seconds",
			Help:      "Upstream LLM call latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"provider", "model"},
	)

	e.llmTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"provider", "token_type"},
	)

	e.llmFailovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "llm",
			Name:      "failovers_total",
			Help:      "Provider failovers during send",
		},
		[]string{"from", "to"},
	)

	e.workerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "worker",
			Name:      "ticks_total",
			Help:      "Background worker ticks executed",
		},
	)

	e.summaries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "worker",
			Name:      "summaries_total",
			Help:      "Session summaries processed",
		},
		[]string{"status"},
	)

	e.profileRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "deskpet",
			Subsystem: "worker",
			Name:      "profile_refreshes_total",
			Help:      "Profile refreshes processed",
		},
		[]string{"status"},
	)

	e.summaryQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskpet",
			Subsystem: "worker",
			Name:      "summary_queue_depth",
			Help:      "Sessions waiting in the summary queue",
		},
	)

	e.storeDegraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "deskpet",
			Subsystem: "store",
			Name:      "degraded",
			Help:      "1 when running on the in-memory fallback store",
		},
	)

	registry.MustRegister(
		e.chatRequests,
		e.chatLatency,
		e.llmRequests,
		e.llmLatency,
		e.llmTokens,
		e.llmFailovers,
		e.workerTicks,
		e.summaries,
		e.profileRefreshes,
		e.summaryQueueDepth,
		e.storeDegraded,
	)

	return e
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordChatRequest records one served chat request. Mode is "message" or
// "stream".
func (e *PrometheusExporter) RecordChatRequest(mode string, latency time.Duration, success bool) {
	e.chatRequests.WithLabelValues(mode, statusLabel(success)).Inc()
	e.chatLatency.WithLabelValues(mode).Observe(latency.Seconds())
}

// RecordLLMCall records one upstream provider attempt.
func (e *PrometheusExporter) RecordLLMCall(provider, model string, latency time.Duration, success bool) {
	e.llmRequests.WithLabelValues(provider, statusLabel(success)).Inc()
	e.llmLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

// RecordLLMTokens records token usage reported by a provider.
func (e *PrometheusExporter) RecordLLMTokens(provider string, promptTokens, completionTokens int) {
	if promptTokens > 0 {
		e.llmTokens.WithLabelValues(provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		e.llmTokens.WithLabelValues(provider, "completion").Add(float64(completionTokens))
	}
}

// RecordFailover records one provider-to-provider failover.
func (e *PrometheusExporter) RecordFailover(from, to string) {
	e.llmFailovers.WithLabelValues(from, to).Inc()
}

// RecordWorkerTick records one background worker tick.
func (e *PrometheusExporter) RecordWorkerTick() {
	e.workerTicks.Inc()
}

// RecordSummary records one processed summary task.
func (e *PrometheusExporter) RecordSummary(success bool) {
	e.summaries.WithLabelValues(statusLabel(success)).Inc()
}

// RecordProfileRefresh records one profile refresh.
func (e *PrometheusExporter) RecordProfileRefresh(success bool) {
	e.profileRefreshes.WithLabelValues(statusLabel(success)).Inc()
}

// SetSummaryQueueDepth publishes the current summary queue size.
func (e *PrometheusExporter) SetSummaryQueueDepth(n int) {
	e.summaryQueueDepth.Set(float64(n))
}

// SetStoreDegraded flags whether the in-memory fallback store is active.
func (e *PrometheusExporter) SetStoreDegraded(degraded bool) {
	if degraded {
		e.storeDegraded.Set(1)
		return
	}
	e.storeDegraded.Set(0)
}

// GetHandler returns the HTTP handler for Prometheus metrics.
func (e *PrometheusExporter) GetHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.GetHandler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
