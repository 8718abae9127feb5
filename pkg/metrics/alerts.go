package metrics

import "github.com/prometheus/client_golang/prometheus"

// StockAlertMetrics counts alerts handed to the ops collaborator.
type StockAlertMetrics struct {
	emitted *prometheus.CounterVec
}

// NewStockAlertMetrics registers the alert counters on the provided registerer.
func NewStockAlertMetrics(reg prometheus.Registerer) *StockAlertMetrics {
	if reg == nil {
		return &StockAlertMetrics{}
	}
	emitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stock_alerts_emitted",
		Help: "Stock alerts emitted, by kind.",
	}, []string{"kind"})
	reg.MustRegister(emitted)
	return &StockAlertMetrics{emitted: emitted}
}

// IncEmitted increments the counter for the given alert kind.
func (m *StockAlertMetrics) IncEmitted(kind string) {
	if m == nil || m.emitted == nil {
		return
	}
	m.emitted.WithLabelValues(kind).Inc()
}
