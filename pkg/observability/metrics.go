package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Charge attempt metrics
	chargeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_charge_attempts_total",
		Help: "Total subscription charge attempts",
	}, []string{
		"outcome", // approved, rejected, transient_error
		"cycle",   // monthly, yearly
	})

	// State machine metrics
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_state_transitions_total",
		Help: "Total subscription state transitions",
	}, []string{
		"from",
		"to",
	})

	// Sweep metrics
	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "billing_sweep_duration_seconds",
		Help:    "Duration of one billing sweep run",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	sweepSubscriptionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_sweep_subscriptions_total",
		Help: "Subscriptions processed by the billing sweep",
	}, []string{
		"result", // success, failed, skipped
	})

	// Webhook metrics
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_webhook_events_total",
		Help: "Gateway webhook events received",
	}, []string{
		"result", // applied, duplicate, unknown_subscription, invalid
	})
)

// RecordChargeAttempt records one charge attempt outcome
func RecordChargeAttempt(outcome, cycle string) {
	chargeAttemptsTotal.WithLabelValues(outcome, cycle).Inc()
}

// RecordStateTransition records a subscription state transition
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordSweepDuration records how long a sweep run took
func RecordSweepDuration(seconds float64) {
	sweepDuration.Observe(seconds)
}

// RecordSweepResult records the per-subscription result of a sweep
func RecordSweepResult(result string) {
	sweepSubscriptionsProcessed.WithLabelValues(result).Inc()
}

// RecordWebhookEvent records the handling result of a webhook delivery
func RecordWebhookEvent(result string) {
	webhookEventsTotal.WithLabelValues(result).Inc()
}
