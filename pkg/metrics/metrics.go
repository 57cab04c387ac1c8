// Package metrics exposes Prometheus collectors for the session and its API
// traffic on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crmdash/pkg/session"
)

const namespace = "crmdash"

var allStatuses = []session.Status{
	session.StatusUnknown,
	session.StatusVerifying,
	session.StatusAuthenticated,
	session.StatusUnauthenticated,
}

// Metrics implements session.Observer and apiclient.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	Transitions     *prometheus.CounterVec
	Status          *prometheus.GaugeVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Rejections      prometheus.Counter
	ViewFetches     *prometheus.CounterVec
}

// New registers the collectors. withRuntime adds the Go and process
// collectors for long-running processes.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session status transitions",
		}, []string{"from", "to"}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise",
		}, []string{"status"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Backend API requests by method and status code",
		}, []string{"method", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Backend API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		Rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "credential_rejections_total",
			Help:      "Sessions cleared because the backend rejected the token",
		}),
		ViewFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "view",
			Name:      "fetches_total",
			Help:      "Protected view fetches by view and outcome",
		}, []string{"view", "outcome"}),
	}

	m.registry.MustRegister(m.Transitions, m.Status, m.Requests, m.RequestDuration, m.Rejections, m.ViewFetches)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.setStatus(session.StatusUnknown)
	return m
}

// Transition records a session status change.
func (m *Metrics) Transition(from, to session.Status) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.setStatus(to)
}

func (m *Metrics) setStatus(current session.Status) {
	for _, s := range allStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		m.Status.WithLabelValues(s.String()).Set(v)
	}
}

// ObserveRequest records one backend round trip. code is 0 when the request
// failed before a response arrived.
func (m *Metrics) ObserveRequest(method string, code int, elapsed time.Duration) {
	label := strconv.Itoa(code)
	if code == 0 {
		label = "error"
	}
	m.Requests.WithLabelValues(method, label).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveRejection counts a session cleared by a 401.
func (m *Metrics) ObserveRejection() {
	m.Rejections.Inc()
}

// ObserveFetch counts a protected view fetch outcome.
func (m *Metrics) ObserveFetch(view, outcome string) {
	m.ViewFetches.WithLabelValues(view, outcome).Inc()
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
