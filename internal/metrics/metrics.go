// Package metrics exposes the daemon's Prometheus instruments.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echovault"

// Metrics holds every instrument. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	notifications      *prometheus.CounterVec
	conditionsFired    *prometheus.CounterVec
	remindersSent      prometheus.Counter
	checkIns           *prometheus.CounterVec
	workerRuns         *prometheus.CounterVec
	workerDuration     *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	secureMessageViews *prometheus.CounterVec
}

// New creates a registry with process and Go collectors plus the
// application instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		// Labels: channel (email, sms, whatsapp), status (sent, retry, failed)
		notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbox notification attempts by channel and outcome",
		}, []string{"channel", "status"}),
		// Labels: type (condition type)
		conditionsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conditions_triggered_total",
			Help:      "Conditions that fired by condition type",
		}, []string{"type"}),
		remindersSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Check-in reminder emails queued",
		}),
		// Labels: source (web, whatsapp, grpc, ...)
		checkIns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "check_ins_total",
			Help:      "Owner check-ins by source",
		}, []string{"source"}),
		workerRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "runs_total",
			Help:      "Background worker passes",
		}, []string{"worker"}),
		workerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "duration_seconds",
			Help:      "Background worker pass duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		}, []string{"worker"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		// Labels: outcome (ok, locked, expired, invalid_pin, not_found)
		secureMessageViews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secure_message_requests_total",
			Help:      "Recipient secure-message requests by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Notification counts one outbox attempt.
func (m *Metrics) Notification(channel, status string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, status).Inc()
}

// ConditionTriggered counts a fired condition.
func (m *Metrics) ConditionTriggered(conditionType string) {
	if m == nil {
		return
	}
	m.conditionsFired.WithLabelValues(conditionType).Inc()
}

// ReminderSent counts a queued reminder.
func (m *Metrics) ReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}

// CheckIn counts an owner check-in.
func (m *Metrics) CheckIn(source string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(source).Inc()
}

// WorkerRun records one worker pass that started at start.
func (m *Metrics) WorkerRun(worker string, start time.Time) {
	if m == nil {
		return
	}
	m.workerRuns.WithLabelValues(worker).Inc()
	m.workerDuration.WithLabelValues(worker).Observe(time.Since(start).Seconds())
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// SecureMessage counts a recipient request by outcome.
func (m *Metrics) SecureMessage(outcome string) {
	if m == nil {
		return
	}
	m.secureMessageViews.WithLabelValues(outcome).Inc()
}
