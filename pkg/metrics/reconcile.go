package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics counts what each reconciliation sweep found and fixed.
type ReconcileMetrics struct {
	scanned   *prometheus.CounterVec
	recovered *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewReconcileMetrics registers reconciliation counters on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	scanned := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_rows_scanned",
		Help: "Rows examined by a reconciliation sweep.",
	}, []string{"kind"})
	recovered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_rows_recovered",
		Help: "Rows converged to the processor state.",
	}, []string{"kind"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_row_failures",
		Help: "Rows the sweep could not reconcile.",
	}, []string{"kind"})
	reg.MustRegister(scanned, recovered, failures)
	return &ReconcileMetrics{
		scanned:   scanned,
		recovered: recovered,
		failures:  failures,
	}
}

// IncScanned counts an examined row of the given kind.
func (m *ReconcileMetrics) IncScanned(kind string) {
	if m == nil || m.scanned == nil {
		return
	}
	m.scanned.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncRecovered counts a converged row of the given kind.
func (m *ReconcileMetrics) IncRecovered(kind string) {
	if m == nil || m.recovered == nil {
		return
	}
	m.recovered.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncFailure counts a row the sweep failed on.
func (m *ReconcileMetrics) IncFailure(kind string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(normalizeLabel(kind)).Inc()
}
