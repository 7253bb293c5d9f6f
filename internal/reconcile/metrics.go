package reconcile

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts reconciliation findings.
type Metrics struct {
	findings *prometheus.CounterVec
}

// NewMetrics registers the reconciliation collectors. A nil registerer leaves
// them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "odyssey_ic_reconciliation_findings_total",
			Help: "Intercompany reconciliation findings by status.",
		}, []string{"status"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.findings)
	}
	return m
}

func (m *Metrics) observe(f Finding) {
	if m == nil {
		return
	}
	m.findings.WithLabelValues(string(f.Status)).Inc()
}
