package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type engineMetrics struct {
	accepted     prometheus.Counter
	rejected     *prometheus.CounterVec
	applyLatency prometheus.Histogram
	mempoolSize  prometheus.Gauge
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *engineMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *httpMetrics
)

// EngineMetrics returns the lazily-initialised registry tracking transaction
// verdicts and apply latency.
func EngineMetrics() *engineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &engineMetrics{
			accepted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "veilnet",
				Subsystem: "engine",
				Name:      "transactions_accepted_total",
				Help:      "Total transactions validated, applied, and confirmed.",
			}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "veilnet",
				Subsystem: "engine",
				Name:      "transactions_rejected_total",
				Help:      "Total rejected transactions segmented by reason code.",
			}, []string{"reason"}),
			applyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "veilnet",
				Subsystem: "engine",
				Name:      "apply_duration_seconds",
				Help:      "Latency distribution of the validate-and-apply pipeline.",
				Buckets:   prometheus.DefBuckets,
			}),
			mempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "veilnet",
				Subsystem: "engine",
				Name:      "mempool_size",
				Help:      "Transactions currently pending in the mempool.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.accepted,
			engineRegistry.rejected,
			engineRegistry.applyLatency,
			engineRegistry.mempoolSize,
		)
	})
	return engineRegistry
}

// ObserveAccepted records a confirmed transaction and its pipeline latency.
func (m *engineMetrics) ObserveAccepted(duration time.Duration) {
	if m == nil {
		return
	}
	m.accepted.Inc()
	m.applyLatency.Observe(duration.Seconds())
}

// ObserveRejected records a rejection by reason code.
func (m *engineMetrics) ObserveRejected(reason string, duration time.Duration) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejected.WithLabelValues(reason).Inc()
	m.applyLatency.Observe(duration.Seconds())
}

// SetMempoolSize updates the pending-pool gauge.
func (m *engineMetrics) SetMempoolSize(n int) {
	if m == nil {
		return
	}
	m.mempoolSize.Set(float64(n))
}

// HTTPMetrics returns the lazily-initialised registry for API traffic.
func HTTPMetrics() *httpMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &httpMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "veilnet",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route, method, and status.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "veilnet",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency)
	})
	return httpRegistry
}

// Observe records one handled request.
func (m *httpMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}
