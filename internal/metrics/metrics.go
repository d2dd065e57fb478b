// Package metrics exposes Prometheus counters for digest runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"slackdigest/internal/domain"
)

const namespace = "slackdigest"

type DigestMetrics struct {
	registry *prometheus.Registry

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge
	messages     *prometheus.CounterVec
	nameLookups  *prometheus.CounterVec
}

func New() *DigestMetrics {
	registry := prometheus.NewRegistry()

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_runs_total",
			Help:      "Digest runs by status.",
		},
		[]string{"status"},
	)
	runDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "digest_run_duration_seconds",
			Help:      "Digest run duration in seconds by status.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "digest_runs_in_flight",
			Help:      "Number of channel digests being generated.",
		},
	)
	messages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_messages_total",
			Help:      "Messages included in digests by workflow and severity.",
		},
		[]string{"workflow", "severity"},
	)
	nameLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digest_name_lookups_total",
			Help:      "Display name resolutions by result (hit, miss, failure).",
		},
		[]string{"result"},
	)

	registry.MustRegister(runsTotal, runDuration, runsInFlight, messages, nameLookups)

	return &DigestMetrics{
		registry:     registry,
		runsTotal:    runsTotal,
		runDuration:  runDuration,
		runsInFlight: runsInFlight,
		messages:     messages,
		nameLookups:  nameLookups,
	}
}

func (m *DigestMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *DigestMetrics) StartRun() {
	m.runsInFlight.Inc()
}

func (m *DigestMetrics) FinishRun(duration time.Duration, err error) {
	m.runsInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *DigestMetrics) ObserveMessages(msgs []domain.ClassifiedMessage) {
	for _, msg := range msgs {
		c := msg.Classification
		m.messages.WithLabelValues(string(c.Workflow), string(c.Severity)).Inc()
	}
}

func (m *DigestMetrics) ObserveNameLookup(result string) {
	m.nameLookups.WithLabelValues(result).Inc()
}
