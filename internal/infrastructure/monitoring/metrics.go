package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/aegis/pkg/constants"
)

// Metrics manages the Prometheus metrics.
type Metrics struct {
	AdmissionDecisions *prometheus.CounterVec
	AdmissionLatency   *prometheus.HistogramVec
	RateLimitBlocks    *prometheus.CounterVec
	QuotaDecrements    *prometheus.CounterVec
	EntitlementRefresh *prometheus.HistogramVec
	StoreDegradations  *prometheus.CounterVec
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		AdmissionDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_admission_decisions_total",
				Help: "Total number of admission decisions.",
			},
			[]string{"action_class", "outcome", "reason"},
		),
		AdmissionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_admission_latency_seconds",
				Help:    "Latency of admission checks.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action_class"},
		),
		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_rate_limit_blocks_total",
				Help: "Total number of keys entering the blocked state.",
			},
			[]string{"scope"},
		),
		QuotaDecrements: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_quota_decrements_total",
				Help: "Total number of quota decrement attempts.",
			},
			[]string{"result"},
		),
		EntitlementRefresh: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aegis_entitlement_refresh_seconds",
				Help:    "Latency of entitlement refreshes against the billing provider.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"trigger"},
		),
		StoreDegradations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aegis_store_degradations_total",
				Help: "Total number of decisions served from stale data after a store error.",
			},
			[]string{"store"},
		),
	}
}

// RecordAdmission records metrics for a single admission decision.
func (m *Metrics) RecordAdmission(actionClass constants.ActionClass, admitted bool, reason constants.DenyReason, duration time.Duration) {
	outcome := "admitted"
	if !admitted {
		outcome = "denied"
	}
	m.AdmissionDecisions.WithLabelValues(string(actionClass), outcome, string(reason)).Inc()
	m.AdmissionLatency.WithLabelValues(string(actionClass)).Observe(duration.Seconds())
}

// RecordRateLimitBlock records a key transitioning into the blocked state.
func (m *Metrics) RecordRateLimitBlock(scope constants.RateLimitScope) {
	m.RateLimitBlocks.WithLabelValues(string(scope)).Inc()
}

// RecordQuotaDecrement records the outcome of a quota decrement.
func (m *Metrics) RecordQuotaDecrement(consumed bool) {
	result := "consumed"
	if !consumed {
		result = "exhausted"
	}
	m.QuotaDecrements.WithLabelValues(result).Inc()
}

// RecordEntitlementRefresh records the latency of an entitlement refresh.
func (m *Metrics) RecordEntitlementRefresh(trigger string, duration time.Duration) {
	m.EntitlementRefresh.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordStoreDegradation records a decision made on stale data.
func (m *Metrics) RecordStoreDegradation(store string) {
	m.StoreDegradations.WithLabelValues(store).Inc()
}
