package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentsTotal,
		paymentsRevenueTotal,
		reconcileApplyTotal,
		reconcileApplyDuration,
		paymentsSuspiciousTotal,
		entitlementGrantsTotal,
	)
}

var (
	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Payment transitions by resulting status (succeeded/failed).",
		},
		[]string{"status"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_revenue_total",
			Help: "The total monetary value (minor units) of successful payments, labeled by currency.",
		},
		[]string{"currency"},
	)

	// disposition: applied|already_terminal|resumed_grant|unknown_payment|error
	reconcileApplyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_apply_total",
			Help: "Reconciliation engine calls by event source and disposition.",
		},
		[]string{"source", "disposition"},
	)

	reconcileApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconcile_apply_duration_seconds",
			Help:    "Duration of reconciliation engine calls in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 3},
		},
		[]string{"source"},
	)

	// reason: amount|currency|product
	paymentsSuspiciousTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_suspicious_total",
			Help: "Events whose reported figures disagree with the stored attempt.",
		},
		[]string{"reason"},
	)

	entitlementGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_grants_total",
			Help: "Entitlement grants written, labeled by kind.",
		},
		[]string{"kind"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncPayment(status string) {
	paymentsTotal.WithLabelValues(norm(status)).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func ObserveApply(source, disposition string, elapsed time.Duration) {
	reconcileApplyTotal.WithLabelValues(norm(source), norm(disposition)).Inc()
	reconcileApplyDuration.WithLabelValues(norm(source)).Observe(elapsed.Seconds())
}

func IncSuspicious(reason string) {
	paymentsSuspiciousTotal.WithLabelValues(norm(reason)).Inc()
}

func IncEntitlementGrant(kind string) {
	entitlementGrantsTotal.WithLabelValues(norm(kind)).Inc()
}
