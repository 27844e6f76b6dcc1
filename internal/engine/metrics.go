package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	queries       *prometheus.CounterVec
	fetchErrors   prometheus.Counter
	fetchDuration prometheus.Histogram
	streamTicks   prometheus.Counter
	activeStreams prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nanolog_ds",
			Name:      "queries_total",
			Help:      "Queries executed, by mode.",
		}, []string{"mode"}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanolog_ds",
			Name:      "fetch_errors_total",
			Help:      "Failed log source fetches.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nanolog_ds",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of log source fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		streamTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nanolog_ds",
			Name:      "stream_ticks_total",
			Help:      "Streaming ticks processed.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nanolog_ds",
			Name:      "active_streams",
			Help:      "Streaming sessions currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.queries, m.fetchErrors, m.fetchDuration, m.streamTicks, m.activeStreams)
	}
	return m
}

func (m *Metrics) observeQuery(mode string) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(mode).Inc()
}

func (m *Metrics) observeFetch(start time.Time, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.fetchErrors.Inc()
	}
}

func (m *Metrics) observeTick() {
	if m == nil {
		return
	}
	m.streamTicks.Inc()
}

func (m *Metrics) streamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) streamStopped() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}
