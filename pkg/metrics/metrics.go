// Package metrics holds the Prometheus collectors for dispatch and event
// delivery. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bridge"

// Invocation outcomes used as the status label.
const (
	StatusOK        = "ok"
	StatusError     = "error"
	StatusFault     = "fault"
	StatusCancelled = "cancelled"
)

// Metrics groups every collector the bridge exports.
type Metrics struct {
	registry *prometheus.Registry

	invocations        *prometheus.CounterVec   // operation, status
	invocationDuration *prometheus.HistogramVec // operation
	inFlight           prometheus.Gauge

	eventsPublished *prometheus.CounterVec // channel
	eventsRejected  *prometheus.CounterVec // channel, reason
	callbackFaults  *prometheus.CounterVec // channel
	subscribers     *prometheus.GaugeVec   // channel
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "invocations_total",
			Help:      "Invocations handled, by operation and outcome",
		}, []string{"operation", "status"}),

		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time from request to envelope, by operation",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"operation"}),

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Handlers currently running",
		}),

		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events accepted for delivery, by channel",
		}, []string{"channel"}),

		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "rejected_total",
			Help:      "Publishes dropped before delivery, by channel and reason",
		}, []string{"channel", "reason"}),

		callbackFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "callback_faults_total",
			Help:      "Subscriber callbacks that panicked, by channel",
		}, []string{"channel"}),

		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "subscribers",
			Help:      "Active subscriptions, by channel",
		}, []string{"channel"}),
	}

	m.registry.MustRegister(
		m.invocations,
		m.invocationDuration,
		m.inFlight,
		m.eventsPublished,
		m.eventsRejected,
		m.callbackFaults,
		m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// HandlerStarted marks a handler as running.
func (m *Metrics) HandlerStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// HandlerFinished marks a handler as returned.
func (m *Metrics) HandlerFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// ObserveInvocation records one dispatch outcome.
func (m *Metrics) ObserveInvocation(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(operation, status).Inc()
	m.invocationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// EventPublished records an accepted publish.
func (m *Metrics) EventPublished(channel string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(channel).Inc()
}

// EventRejected records a dropped publish.
func (m *Metrics) EventRejected(channel, reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(channel, reason).Inc()
}

// CallbackFault records a subscriber callback that panicked.
func (m *Metrics) CallbackFault(channel string) {
	if m == nil {
		return
	}
	m.callbackFaults.WithLabelValues(channel).Inc()
}

// SetSubscribers records the current subscription count of channel.
func (m *Metrics) SetSubscribers(channel string, n int) {
	if m == nil {
		return
	}
	m.subscribers.WithLabelValues(channel).Set(float64(n))
}
