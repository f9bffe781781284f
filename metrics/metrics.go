// Package metrics provides Prometheus metrics for the chat client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client-side collectors. A nil *Metrics is valid and
// records nothing, so components can take it as an optional dependency.
type Metrics struct {
	// Remote call metrics
	RemoteCallsTotal   *prometheus.CounterVec
	RemoteCallDuration *prometheus.HistogramVec
	ColdStartRetries   prometheus.Counter

	// Polling metrics
	PollsTotal       *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge

	// Conversation metrics
	AnswersTotal  prometheus.Counter
	FailuresTotal *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{}

	m.RemoteCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dopchat_remote_calls_total",
			Help: "Total number of calls to the inference service",
		},
		[]string{"endpoint", "outcome"},
	)

	m.RemoteCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dopchat_remote_call_duration_seconds",
			Help:    "Duration of calls to the inference service in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		},
		[]string{"endpoint"},
	)

	m.ColdStartRetries = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "dopchat_cold_start_retries_total",
			Help: "Total number of submission retries while the service was waking up",
		},
	)

	m.PollsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dopchat_status_polls_total",
			Help: "Total number of status polls by observed status",
		},
		[]string{"status"},
	)

	m.RequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "dopchat_requests_in_flight",
			Help: "Number of questions currently being tracked",
		},
	)

	m.AnswersTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "dopchat_answers_total",
			Help: "Total number of answers appended to conversations",
		},
	)

	m.FailuresTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dopchat_failures_total",
			Help: "Total number of failed questions by reason",
		},
		[]string{"reason"},
	)

	return m
}

// RecordRemoteCall records one call to the inference service
func (m *Metrics) RecordRemoteCall(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RemoteCallsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.RemoteCallDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordColdStartRetry() {
	if m == nil {
		return
	}
	m.ColdStartRetries.Inc()
}

func (m *Metrics) RecordPoll(status string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Set(float64(n))
}

func (m *Metrics) RecordAnswer() {
	if m == nil {
		return
	}
	m.AnswersTotal.Inc()
}

func (m *Metrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(reason).Inc()
}
