package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "guacplayer"

// Recorder owns the Prometheus collectors for HTTP traffic, authentication
// outcomes and recording delivery. Each Recorder registers into its own
// registry so tests can build isolated instances.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlight        prometheus.Gauge

	logins              *prometheus.CounterVec
	credentialRejects   *prometheus.CounterVec
	rateLimited         *prometheus.CounterVec
	recordingDeliveries *prometheus.CounterVec
	recordingBytes      *prometheus.CounterVec
	repositoryErrors    *prometheus.CounterVec
}

var (
	defaultOnce     sync.Once
	defaultRecorder *Recorder
)

// New builds a Recorder with Go runtime and process collectors attached.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Recorder{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		credentialRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "credential_rejections_total",
			Help:      "Bearer credentials rejected by reason.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate limiter, by scope.",
		}, []string{"scope"}),
		recordingDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recordings",
			Name:      "deliveries_total",
			Help:      "Recording video deliveries by mode and result.",
		}, []string{"mode", "result"}),
		recordingBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recordings",
			Name:      "bytes_sent_total",
			Help:      "Recording bytes written to clients by mode.",
		}, []string{"mode"}),
		repositoryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "errors_total",
			Help:      "Repository failures by operation.",
		}, []string{"operation"}),
	}

	registry.MustRegister(
		r.requests,
		r.requestDuration,
		r.inFlight,
		r.logins,
		r.credentialRejects,
		r.rateLimited,
		r.recordingDeliveries,
		r.recordingBytes,
		r.repositoryErrors,
	)
	return r
}

// Default returns the process-wide Recorder.
func Default() *Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = New()
	})
	return defaultRecorder
}

// Registry exposes the underlying registry, mostly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the Prometheus text exposition for this Recorder.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRequest records a completed request. An empty route collapses to
// "unmatched" so arbitrary paths cannot blow up label cardinality.
func (r *Recorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	r.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (r *Recorder) requestStarted() {
	if r != nil {
		r.inFlight.Inc()
	}
}

func (r *Recorder) requestFinished() {
	if r != nil {
		r.inFlight.Dec()
	}
}

// ObserveLogin counts a login attempt. Outcomes are "success", "invalid",
// "disabled", "rejected" and "error".
func (r *Recorder) ObserveLogin(outcome string) {
	if r == nil {
		return
	}
	r.logins.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveCredentialRejection counts a rejected bearer credential.
func (r *Recorder) ObserveCredentialRejection(reason string) {
	if r == nil {
		return
	}
	r.credentialRejects.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveRateLimited counts a request refused by a limiter.
func (r *Recorder) ObserveRateLimited(scope string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(normalizeLabel(scope)).Inc()
}

// ObserveRecordingDelivery counts a stream or download and the bytes sent.
func (r *Recorder) ObserveRecordingDelivery(mode, result string, bytes int64) {
	if r == nil {
		return
	}
	mode = normalizeLabel(mode)
	r.recordingDeliveries.WithLabelValues(mode, normalizeLabel(result)).Inc()
	if bytes > 0 {
		r.recordingBytes.WithLabelValues(mode).Add(float64(bytes))
	}
}

// ObserveRepositoryError counts a failed repository call.
func (r *Recorder) ObserveRepositoryError(operation string) {
	if r == nil {
		return
	}
	r.repositoryErrors.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
