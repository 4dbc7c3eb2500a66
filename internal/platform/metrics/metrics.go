package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide Prometheus metrics. Bounded contexts keep
// their own metrics packages; this one covers transport and event delivery.
type Metrics struct {
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	EventsPublished     *prometheus.CounterVec
	EventsBuffered      prometheus.Gauge
	EventSinkOpen       prometheus.Gauge
}

// New creates and registers the process metrics with reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustcore_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"route", "method"}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_events_published_total",
			Help: "Protocol events delivered to the event stream, by outcome",
		}, []string{"outcome"}),
		EventsBuffered: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustcore_events_buffered",
			Help: "Events held for replay while the event stream is unavailable",
		}),
		EventSinkOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "trustcore_event_sink_circuit_open",
			Help: "1 when the event stream circuit breaker is open",
		}),
	}
}

// ObserveEventPublished records a delivery attempt outcome.
func (m *Metrics) ObserveEventPublished(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(outcome).Inc()
}

// SetEventBuffer records the replay buffer depth and breaker state.
func (m *Metrics) SetEventBuffer(depth int, open bool) {
	if m == nil {
		return
	}
	m.EventsBuffered.Set(float64(depth))
	if open {
		m.EventSinkOpen.Set(1)
	} else {
		m.EventSinkOpen.Set(0)
	}
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(seconds)
}
