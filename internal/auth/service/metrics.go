package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the auth gateway. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	RetryBackoff     prometheus.Histogram
	SignIns          *prometheus.CounterVec
	StateChanges     *prometheus.CounterVec
	Subscribers      prometheus.Gauge
}

// NewMetrics creates and registers the collectors with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_session_cache_lookups_total",
				Help: "Session cache lookups by result",
			},
			[]string{"result"},
		),
		ProviderAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_provider_attempts_total",
				Help: "Identity provider calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RetryBackoff: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authgate_retry_backoff_seconds",
				Help:    "Backoff delay before a provider retry",
				Buckets: []float64{0.5, 1, 3, 6, 12, 24, 48},
			},
		),
		SignIns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_sign_ins_total",
				Help: "Sign-in results by source",
			},
			[]string{"source"},
		),
		StateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_state_changes_total",
				Help: "Session state transitions fanned out to subscribers",
			},
			[]string{"status"},
		),
		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "authgate_state_subscribers",
				Help: "Currently registered state subscribers",
			},
		),
	}
}

func (m *Metrics) cacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) providerAttempt(op, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) backoff(d time.Duration) {
	if m == nil {
		return
	}
	m.RetryBackoff.Observe(d.Seconds())
}

func (m *Metrics) signIn(source string) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(source).Inc()
}

func (m *Metrics) stateChange(status string) {
	if m == nil {
		return
	}
	m.StateChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) subscribers(delta float64) {
	if m == nil {
		return
	}
	m.Subscribers.Add(delta)
}
