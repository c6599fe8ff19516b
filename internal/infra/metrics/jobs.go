package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(reconcilerRunsTotal) }

var reconcilerRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "payment_reconciler_items_total",
		Help: "Attempts handled by the background reconciler, labeled by job and result.",
	},
	[]string{"job", "result"}, // job: resume_grant|stale_pending; result: ok|pending|raced|error
)

func IncReconcilerItem(job, result string) {
	reconcilerRunsTotal.WithLabelValues(norm(job), norm(result)).Inc()
}
