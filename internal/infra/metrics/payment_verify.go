package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentConfirmRequests,
		PaymentConfirmDuration,
		WebhookRequests,
	)
}

var (
	// Count of confirmation calls grouped by result.
	// result: succeeded|failed|pending|not_found|bad_request|unauthorized|rate_limited|error
	PaymentConfirmRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirm_requests_total",
			Help: "Count of /api/v1/payments/confirm calls by result.",
		},
		[]string{"result"},
	)

	// Latency of the confirmation handler grouped by result.
	PaymentConfirmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_confirm_duration_seconds",
			Help:    "Duration of /api/v1/payments/confirm handler in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"result"},
	)

	// Webhook deliveries grouped by provider and result.
	// result: processed|ignored|unknown_payment|unauthenticated|unparseable|error
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Provider webhook deliveries by provider and result.",
		},
		[]string{"provider", "result"},
	)
)
