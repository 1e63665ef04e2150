package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	signaturesIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "landlord_signatures_issued_total",
		Help: "Claim authorizations signed by the backend key.",
	})

	signatureRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landlord_signature_rejections_total",
			Help: "Signature requests rejected before signing.",
		},
		[]string{"reason"},
	)

	claimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "landlord_claims_total",
			Help: "Claims submitted to a writable ledger backend.",
		},
		[]string{"result"},
	)

	chainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "landlord_chain_request_duration_seconds",
			Help:    "Latency of chain reads.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "landlord_ready",
		Help: "1 when the last readiness probe succeeded.",
	})

	initOnce sync.Once
)

// Init registers metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			signaturesIssued, signatureRejections, claimsTotal, chainDuration, ready,
		)
	})
}

// Handler serves the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SignatureIssued() { signaturesIssued.Inc() }

func SignatureRejected(reason string) { signatureRejections.WithLabelValues(reason).Inc() }

func ClaimResult(result string) { claimsTotal.WithLabelValues(result).Inc() }

func ObserveChain(method string, start time.Time) {
	chainDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// SetReady records the outcome of the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// Instrument records RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses identifiers in known routes so metric labels stay bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if parts[0] != "distributions" {
		return raw
	}
	switch len(parts) {
	case 2:
		return "/distributions/:id"
	case 4:
		if parts[2] == "claimed" {
			return "/distributions/:id/claimed/:holder"
		}
	}
	return raw
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
