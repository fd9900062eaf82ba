package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconcileTransitionsTotal,
		reconcileOutcomesTotal,
		reconcileConflictsTotal,
		stalePendingPayments,
	)
}

var (
	reconcileTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_transitions_total",
			Help: "Payable status transitions applied by the reconciliation engine.",
		},
		[]string{"gateway", "from", "to"},
	)

	// outcome: applied|noop|stale|rejected|error
	reconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_outcomes_total",
			Help: "Reconciliation steps by event kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	reconcileConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reconcile_lock_conflicts_total",
			Help: "Optimistic lock conflicts that caused a reconciliation step to be retried.",
		},
	)

	stalePendingPayments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payments_stale_pending",
			Help: "Payments still pending after the configured threshold, as of the last sweep.",
		},
		[]string{"gateway"},
	)
)

func IncTransition(gateway, from, to string) {
	reconcileTransitionsTotal.WithLabelValues(norm(gateway), norm(from), norm(to)).Inc()
}

func IncReconcile(kind, outcome string) {
	reconcileOutcomesTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func IncLockConflict() { reconcileConflictsTotal.Inc() }

func SetStalePending(gateway string, n int) {
	stalePendingPayments.WithLabelValues(norm(gateway)).Set(float64(n))
}
