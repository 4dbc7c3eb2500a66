package tokenization

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the tokenization gate.
type Metrics struct {
	Tokenized     prometheus.Counter
	Rejected      *prometheus.CounterVec
	FeesCollected prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Tokenized: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_assets_tokenized_total",
			Help: "Total number of tokenized assets",
		}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_tokenization_rejected_total",
			Help: "Tokenization attempts rejected by the gate",
		}, []string{"reason"}),
		FeesCollected: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_tokenization_fees_total",
			Help: "Tokenization fees collected, in base units",
		}),
	}
}

func (m *Metrics) ObserveTokenized(fee float64) {
	m.Tokenized.Inc()
	m.FeesCollected.Add(fee)
}

func (m *Metrics) IncrementRejected(reason string) {
	m.Rejected.WithLabelValues(reason).Inc()
}
