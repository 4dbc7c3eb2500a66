package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the settlement engine.
type Metrics struct {
	Transitions  *prometheus.CounterVec
	Escrowed     prometheus.Gauge
	FeesWithheld prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_settlement_transitions_total",
			Help: "Settlement state transitions by resulting status",
		}, []string{"status"}),
		Escrowed: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustcore_settlement_escrowed",
			Help: "Value currently held in open escrows, in base units",
		}),
		FeesWithheld: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_settlement_fees_total",
			Help: "Settlement fees withheld, in base units",
		}),
	}
}

func (m *Metrics) ObserveOpened(amount float64) {
	m.Transitions.WithLabelValues("PENDING").Inc()
	m.Escrowed.Add(amount)
}

func (m *Metrics) ObserveTransition(status string) {
	m.Transitions.WithLabelValues(status).Inc()
}

// ObserveSettled records an escrow released to the seller.
func (m *Metrics) ObserveSettled(amount, fee float64) {
	m.Transitions.WithLabelValues("SETTLED").Inc()
	m.Escrowed.Sub(amount)
	m.FeesWithheld.Add(fee)
}
