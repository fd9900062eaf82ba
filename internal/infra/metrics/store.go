package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolConns, dbPoolEmptyAcquires, providerCacheTotal) }

var (
	// state: total|idle|acquired|max
	dbPoolConns = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reconciler_db_pool_connections",
			Help: "Postgres pool connections by state.",
		},
		[]string{"state"},
	)

	dbPoolEmptyAcquires = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reconciler_db_pool_empty_acquires",
		Help: "Cumulative acquires that waited because the Postgres pool was empty.",
	})

	// result: hit|miss|error
	providerCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_cache_requests_total",
			Help: "Lookups served by the Redis read-through caches.",
		},
		[]string{"cache", "result"},
	)
)

// PoolStats is a snapshot of the Postgres pool.
type PoolStats struct {
	Total, Idle, Acquired, Max int32
	EmptyAcquires              int64
}

func SetDBPoolStats(s PoolStats) {
	dbPoolConns.WithLabelValues("total").Set(float64(s.Total))
	dbPoolConns.WithLabelValues("idle").Set(float64(s.Idle))
	dbPoolConns.WithLabelValues("acquired").Set(float64(s.Acquired))
	dbPoolConns.WithLabelValues("max").Set(float64(s.Max))
	dbPoolEmptyAcquires.Set(float64(s.EmptyAcquires))
}

func IncCacheRequest(cache, result string) {
	providerCacheTotal.WithLabelValues(norm(cache), norm(result)).Inc()
}
