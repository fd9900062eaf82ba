package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayCallsTotal,
		gatewayCallLatency,
		paymentsTotal,
	)
}

var (
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_calls_total",
			Help: "Outbound gateway calls by gateway, operation and HTTP status (0 on network error).",
		},
		[]string{"gateway", "op", "code"},
	)

	gatewayCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_duration_seconds",
			Help:    "Outbound gateway call latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"gateway", "op"},
	)

	paymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_total",
			Help: "Outbound payment attempts by gateway and result (initiated/succeeded/failed/skipped).",
		},
		[]string{"gateway", "result"},
	)
)

func ObserveGatewayCall(gateway, op string, code int, seconds float64) {
	gatewayCallsTotal.WithLabelValues(norm(gateway), norm(op), strconv.Itoa(code)).Inc()
	gatewayCallLatency.WithLabelValues(norm(gateway), norm(op)).Observe(seconds)
}

func IncPayment(gateway, result string) {
	paymentsTotal.WithLabelValues(norm(gateway), norm(result)).Inc()
}
