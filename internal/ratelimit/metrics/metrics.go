package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejected      *prometheus.CounterVec
	StoreFailures prometheus.Counter
	Degraded      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_ratelimit_rejected_total",
			Help: "Requests rejected by the throttle",
		}, []string{"class"}),
		StoreFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_ratelimit_store_failures_total",
			Help: "Primary bucket store errors",
		}),
		Degraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustcore_ratelimit_degraded",
			Help: "1 while the in-memory fallback is serving checks",
		}),
	}
}

func (m *Metrics) IncrementRejected(class string) {
	if m == nil {
		return
	}
	m.Rejected.WithLabelValues(class).Inc()
}

func (m *Metrics) IncrementStoreFailures() {
	if m == nil {
		return
	}
	m.StoreFailures.Inc()
}

func (m *Metrics) SetDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.Degraded.Set(1)
		return
	}
	m.Degraded.Set(0)
}
