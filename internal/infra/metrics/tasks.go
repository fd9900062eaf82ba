package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		tasksEnqueuedTotal,
		tasksProcessedTotal,
		tasksQueueDepth,
		workersBusy,
	)
}

var (
	tasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_enqueued_total",
			Help: "Tasks enqueued by kind; deduplicated enqueues are labeled dedup.",
		},
		[]string{"kind", "result"}, // 'queued', 'dedup'
	)

	tasksProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasks_processed_total",
			Help: "Total number of tasks processed, labeled by kind and status.",
		},
		[]string{"kind", "status"}, // 'done', 'retry', 'terminal', 'dead'
	)

	tasksQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tasks_queue_depth",
			Help: "Current number of tasks per queue state.",
		},
		[]string{"state"}, // 'pending', 'processing', 'delayed', 'dead'
	)

	workersBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tasks_workers_busy",
		Help: "Worker goroutines currently running a task.",
	})
)

func IncTaskEnqueued(kind, result string) {
	tasksEnqueuedTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func IncTaskProcessed(kind, status string) {
	tasksProcessedTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}

func SetQueueDepth(state string, n int64) {
	tasksQueueDepth.WithLabelValues(norm(state)).Set(float64(n))
}

func AddWorkersBusy(delta int) {
	workersBusy.Add(float64(delta))
}
