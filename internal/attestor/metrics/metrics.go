package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the attestor registry.
type Metrics struct {
	Registered   prometheus.Counter
	Slashes      prometheus.Counter
	Deactivated  prometheus.Counter
	SlashedStake prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Registered: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_attestors_registered_total",
			Help: "Total number of attestors registered",
		}),
		Slashes: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_attestor_slashes_total",
			Help: "Total number of slashes applied",
		}),
		Deactivated: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_attestors_deactivated_total",
			Help: "Attestors deactivated by slashing",
		}),
		SlashedStake: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_attestor_slashed_stake_total",
			Help: "Stake removed by slashing, in base units",
		}),
	}
}

func (m *Metrics) IncrementRegistered() {
	m.Registered.Inc()
}

func (m *Metrics) ObserveSlash(amount float64, deactivated bool) {
	m.Slashes.Inc()
	m.SlashedStake.Add(amount)
	if deactivated {
		m.Deactivated.Inc()
	}
}
