package httpserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the HTTP-facing counters/histograms named in
// SPEC_FULL.md §10's observability section, grounded on
// internal/observability/metrics.go's promauto CounterVec/HistogramVec
// pattern. The request metrics, PromptsTotal and ToolCallsTotal are
// updated by this package's handlers; QueueDepth and Compactions are
// registered but nothing in this package updates them.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestCounter  *prometheus.CounterVec
	PromptsTotal    *prometheus.CounterVec
	ToolCallsTotal  *prometheus.CounterVec
	QueueDepth      *prometheus.GaugeVec
	Compactions     prometheus.Counter
}

var (
	metricsOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics returns the process-wide metric set, registering it against
// the default registry on the first call; later calls (one per Server)
// return the same set, since the default registry rejects duplicates.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() { defaultMetrics = newMetrics() })
	return defaultMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "amcp",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"method", "route", "status"}),
		RequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amcp",
			Name:      "http_requests_total",
			Help:      "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		PromptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amcp",
			Name:      "prompts_total",
			Help:      "Prompts accepted, queued, or rejected.",
		}, []string{"outcome"}),
		ToolCallsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amcp",
			Name:      "tool_calls_total",
			Help:      "Tool calls executed, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "amcp",
			Name:      "session_queue_depth",
			Help:      "Pending queued prompts for a session.",
		}, []string{"session_id"}),
		Compactions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "amcp",
			Name:      "context_compactions_total",
			Help:      "Context compaction events.",
		}),
	}
}

// instrument is chi middleware recording RequestDuration/RequestCounter
// for every request, labeled by the matched route pattern rather than the
// raw path (spec §10: cardinality-bounded labels).
func (m *Metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := strconv.Itoa(ww.Status())
		m.RequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(r.Method, route, status).Inc()
	})
}
