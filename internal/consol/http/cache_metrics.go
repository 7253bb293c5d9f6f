package http

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// cacheMetrics observes the statement cache. A nil value records nothing.
type cacheMetrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// newCacheMetrics registers the collectors, reusing any already registered
// under the same names.
func newCacheMetrics(reg prometheus.Registerer) (*cacheMetrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &cacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_consol_cache_hits_total",
			Help: "Number of cache hits for consolidated statements.",
		}, []string{"report", "root"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_consol_cache_miss_total",
			Help: "Number of cache misses for consolidated statements.",
		}, []string{"report", "root"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "odyssey_consol_build_duration_seconds",
			Help:    "Duration required to build consolidated statements.",
			Buckets: prometheus.DefBuckets,
		}, []string{"report", "root"}),
	}
	var err error
	if m.hits, err = registerCounter(reg, m.hits); err != nil {
		return nil, err
	}
	if m.misses, err = registerCounter(reg, m.misses); err != nil {
		return nil, err
	}
	if err := reg.Register(m.duration); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, err
		}
		m.duration = existing
	}
	return m, nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return c, nil
}

func (m *cacheMetrics) hit(report, root string) {
	if m == nil {
		return
	}
	m.hits.WithLabelValues(report, root).Inc()
}

func (m *cacheMetrics) miss(report, root string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(report, root).Inc()
}

func (m *cacheMetrics) observeBuild(report, root string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(report, root).Observe(d.Seconds())
}
