package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification registry.
type Metrics struct {
	Submissions *prometheus.CounterVec
	Reviews     *prometheus.CounterVec
	Revocations prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_verification_submissions_total",
			Help: "Verification submissions by initial status",
		}, []string{"status"}),
		Reviews: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_verification_reviews_total",
			Help: "Manual review outcomes",
		}, []string{"outcome"}),
		Revocations: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_verification_revocations_total",
			Help: "Total number of revoked verifications",
		}),
	}
}

func (m *Metrics) IncrementSubmission(status string) {
	m.Submissions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementReview(approved bool) {
	outcome := "rejected"
	if approved {
		outcome = "approved"
	}
	m.Reviews.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRevocation() {
	m.Revocations.Inc()
}
