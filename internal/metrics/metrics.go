package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	graphEdges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "composition",
			Name:      "edge_changes_total",
			Help:      "Composition edges defined, updated or removed.",
		},
		[]string{"op"},
	)

	cycleRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "composition",
			Name:      "cycle_rejections_total",
			Help:      "Edge definitions rejected because they would close a cycle.",
		},
	)

	flattenDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "composition",
			Name:      "flatten_duration_seconds",
			Help:      "Time spent loading and flattening a composition sub-graph.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"success"},
	)

	invoiceTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoice",
			Name:      "transitions_total",
			Help:      "Invoice status transitions by target status and outcome.",
		},
		[]string{"to", "success"},
	)

	invoiceReturns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "invoice",
			Name:      "returns_total",
			Help:      "Returns recorded against finalized invoices.",
		},
		[]string{"warranty"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		graphEdges,
		cycleRejections,
		flattenDuration,
		invoiceTransitions,
		invoiceReturns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP metrics collection. Requests are
// labelled by the matched ServeMux pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordEdgeChange counts a composition edge mutation ("define", "update",
// "remove" or "cascade").
func RecordEdgeChange(op string, n int) {
	graphEdges.WithLabelValues(op).Add(float64(n))
}

// RecordCycleRejected counts an edge refused by the cycle check.
func RecordCycleRejected() {
	cycleRejections.Inc()
}

// ObserveFlatten records the duration of one flatten call.
func ObserveFlatten(d time.Duration, err error) {
	flattenDuration.WithLabelValues(strconv.FormatBool(err == nil)).Observe(d.Seconds())
}

// RecordTransition counts an attempted invoice transition.
func RecordTransition(to string, err error) {
	invoiceTransitions.WithLabelValues(to, strconv.FormatBool(err == nil)).Inc()
}

// RecordReturn counts a recorded return.
func RecordReturn(warrantyCovered bool) {
	invoiceReturns.WithLabelValues(strconv.FormatBool(warrantyCovered)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
