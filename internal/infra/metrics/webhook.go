package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookRequestsTotal,
		webhookDuration,
	)
}

var (
	// result: accepted|rejected|rate_limited|error
	// reason (rejected only): org_not_found|provider_not_found|bad_signature|malformed|unknown_gateway
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound gateway webhooks by gateway, result and bounded reason.",
		},
		[]string{"gateway", "result", "reason"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Duration of the webhook ingress path in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"gateway", "result"},
	)
)

func IncWebhook(gateway, result, reason string) {
	webhookRequestsTotal.WithLabelValues(norm(gateway), norm(result), norm(reason)).Inc()
}

func ObserveWebhook(gateway, result string, seconds float64) {
	webhookDuration.WithLabelValues(norm(gateway), norm(result)).Observe(seconds)
}
