package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(eventsPublishedTotal) }

var eventsPublishedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "entitlement_events_published_total",
		Help: "EntitlementGranted events handed to the configured broker, by result.",
	},
	[]string{"driver", "result"}, // result: ok|error
)

func IncEventPublished(driver, result string) {
	eventsPublishedTotal.WithLabelValues(norm(driver), norm(result)).Inc()
}
