package fees

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for fee distribution.
type Metrics struct {
	Distributed *prometheus.CounterVec
	Claimed     prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Distributed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_fees_distributed_total",
			Help: "Fees credited per pool, in base units",
		}, []string{"pool"}),
		Claimed: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_fees_validator_claimed_total",
			Help: "Validator rewards paid out, in base units",
		}),
	}
}

func (m *Metrics) ObserveSplit(s Split) {
	m.Distributed.WithLabelValues("treasury").Add(s.Treasury.InexactFloat64())
	m.Distributed.WithLabelValues("stakers").Add(s.Stakers.InexactFloat64())
	m.Distributed.WithLabelValues("insurance").Add(s.Insurance.InexactFloat64())
	m.Distributed.WithLabelValues("validators").Add(s.Validators.InexactFloat64())
}

func (m *Metrics) ObserveInsurance(amount float64) {
	m.Distributed.WithLabelValues("insurance").Add(amount)
}

func (m *Metrics) ObserveClaim(amount float64) {
	m.Claimed.Add(amount)
}
