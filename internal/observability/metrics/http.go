package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lfm"

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	searchTotal        *prometheus.CounterVec
	searchDuration     *prometheus.HistogramVec
	legacyFallbacks    *prometheus.CounterVec
	candidatePoolSize  *prometheus.HistogramVec
	impressionsTotal   *prometheus.CounterVec
	selectionsTotal    *prometheus.CounterVec
	modelReloadsTotal  *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	searchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Served searches by ranking variant and model version.",
		},
		[]string{"service", "variant", "model_version"},
	)
	searchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end search duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"service", "variant"},
	)
	legacyFallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "legacy_fallback_total",
			Help:      "Searches served by the legacy matching path.",
		},
		[]string{"service"},
	)
	candidatePoolSize := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ranking",
			Name:      "candidate_pool_size",
			Help:      "Merged candidates per ranking request.",
			Buckets:   []float64{0, 5, 10, 25, 50, 75, 100},
		},
		[]string{"service"},
	)
	impressionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "impressions_total",
			Help:      "Impression logging outcomes.",
		},
		[]string{"service", "outcome"},
	)
	selectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "selections_total",
			Help:      "Selection logging outcomes.",
		},
		[]string{"service", "status"},
	)
	modelReloadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ltr",
			Name:      "model_reloads_total",
			Help:      "Learned model reload attempts by status.",
		},
		[]string{"service", "status"},
	)
	breakerTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resilience",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by operation.",
		},
		[]string{"service", "operation", "to"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		searchTotal,
		searchDuration,
		legacyFallbacks,
		candidatePoolSize,
		impressionsTotal,
		selectionsTotal,
		modelReloadsTotal,
		breakerTransitions,
	)

	return &HTTPServerMetrics{
		registry:           registry,
		requestTotal:       requestTotal,
		requestDuration:    requestDuration,
		requestInFlight:    requestInFlight,
		searchTotal:        searchTotal,
		searchDuration:     searchDuration,
		legacyFallbacks:    legacyFallbacks,
		candidatePoolSize:  candidatePoolSize,
		impressionsTotal:   impressionsTotal,
		selectionsTotal:    selectionsTotal,
		modelReloadsTotal:  modelReloadsTotal,
		breakerTransitions: breakerTransitions,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// normalizePath keeps label cardinality bounded to the known routes.
func normalizePath(path string) string {
	switch path {
	case "/search", "/log-selection", "/healthz", "/metrics", "/admin/model", "/admin/model/reload":
		return path
	default:
		return "other"
	}
}

// RecordSearch observes one served search. modelVersion is empty for
// searches that returned no matches.
func (m *HTTPServerMetrics) RecordSearch(service, variant, modelVersion string, legacy bool, poolSize int, duration time.Duration) {
	if variant == "" {
		variant = "unknown"
	}
	if modelVersion == "" {
		modelVersion = "none"
	}
	m.searchTotal.WithLabelValues(service, variant, modelVersion).Inc()
	m.searchDuration.WithLabelValues(service, variant).Observe(duration.Seconds())
	if legacy {
		m.legacyFallbacks.WithLabelValues(service).Inc()
		return
	}
	m.candidatePoolSize.WithLabelValues(service).Observe(float64(poolSize))
}

func (m *HTTPServerMetrics) RecordImpression(service, outcome string) {
	m.impressionsTotal.WithLabelValues(service, outcome).Inc()
}

func (m *HTTPServerMetrics) RecordSelection(service string, logged bool) {
	status := "logged"
	if !logged {
		status = "skipped"
	}
	m.selectionsTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordModelReload(service string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.modelReloadsTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordBreakerTransition(service, operation, to string) {
	m.breakerTransitions.WithLabelValues(service, operation, to).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}
