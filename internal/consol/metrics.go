package consol

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for consolidation runs.
type Metrics struct {
	runs         *prometheus.CounterVec
	duration     prometheus.Histogram
	eliminations prometheus.Counter
	entities     prometheus.Histogram
}

// NewMetrics registers the consolidation collectors. A nil registerer yields
// unregistered collectors, which is what tests use.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_consol_runs_total",
			Help: "Consolidation runs partitioned by outcome.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "odyssey_consol_run_duration_seconds",
			Help:    "Duration of consolidation runs.",
			Buckets: prometheus.DefBuckets,
		}),
		eliminations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "odyssey_consol_elimination_entries_total",
			Help: "Elimination entries generated across runs.",
		}),
		entities: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "odyssey_consol_run_entities",
			Help:    "Entities rolled up per consolidation run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.runs, m.duration, m.eliminations, m.entities)
	}
	return m
}

func (m *Metrics) observe(start time.Time, entities, entries int, err error) {
	if m == nil {
		return
	}
	status := "success"
	switch {
	case err == nil:
	case isCancellation(err):
		status = "cancelled"
	default:
		status = "failure"
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(time.Since(start).Seconds())
	if err == nil {
		m.eliminations.Add(float64(entries))
		m.entities.Observe(float64(entities))
	}
}
