package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the stake ledger.
type Metrics struct {
	StakeOps      *prometheus.CounterVec
	TotalStaked   prometheus.Gauge
	TotalSupply   prometheus.Gauge
	RewardsMinted prometheus.Counter
}

// New creates the ledger metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StakeOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_ledger_operations_total",
			Help: "Ledger operations by kind",
		}, []string{"op"}),
		TotalStaked: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustcore_ledger_total_staked",
			Help: "Principal currently locked in stake positions",
		}),
		TotalSupply: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustcore_ledger_total_supply",
			Help: "Issued token supply",
		}),
		RewardsMinted: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_ledger_rewards_minted_total",
			Help: "Staking reward tokens minted on unstake",
		}),
	}
}

func (m *Metrics) IncrementOp(op string) {
	m.StakeOps.WithLabelValues(op).Inc()
}

func (m *Metrics) SetTotals(staked, supply float64) {
	m.TotalStaked.Set(staked)
	m.TotalSupply.Set(supply)
}

func (m *Metrics) AddRewardsMinted(amount float64) {
	m.RewardsMinted.Add(amount)
}
