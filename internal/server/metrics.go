package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quantarena/arena/internal/scheduler"
)

// promMetrics implements scheduler.Metrics on prometheus collectors. Each
// server owns its registry so tests can spin up servers independently.
type promMetrics struct {
	registry     *prometheus.Registry
	cycles       prometheus.Counter
	scannedTotal prometheus.Gauge
	scannedDue   prometheus.Gauge
	tickOutcomes *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

var _ scheduler.Metrics = (*promMetrics)(nil)

func newPromMetrics() *promMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &promMetrics{
		registry: registry,
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "arena_dispatch_cycles_total",
			Help: "Dispatch cycles started.",
		}),
		scannedTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_sessions_running",
			Help: "Running sessions seen in the last dispatch scan.",
		}),
		scannedDue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arena_sessions_due",
			Help: "Sessions due in the last dispatch scan.",
		}),
		tickOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_ticks_total",
			Help: "Tick invocations by outcome.",
		}, []string{"outcome"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arena_tick_duration_seconds",
			Help:    "Tick invocation latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
	}
}

func (m *promMetrics) CycleStarted() {
	m.cycles.Inc()
}

func (m *promMetrics) SessionsScanned(total, due int) {
	m.scannedTotal.Set(float64(total))
	m.scannedDue.Set(float64(due))
}

func (m *promMetrics) TickObserved(outcome scheduler.Outcome, d time.Duration) {
	m.tickOutcomes.WithLabelValues(string(outcome)).Inc()
	m.tickDuration.Observe(d.Seconds())
}
