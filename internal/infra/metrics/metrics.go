// Package metrics holds the Prometheus collectors of the reconciler. Each file declares its
// collectors and enqueues them from init; the binary registers them all with MustRegister.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once
	pending      []prometheus.Collector
)

func register(cs ...prometheus.Collector) { pending = append(pending, cs...) }

// MustRegister adds every collector to the default registry. Later calls are no-ops.
func MustRegister() {
	registerOnce.Do(func() { prometheus.MustRegister(pending...) })
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func init() { register(buildInfo) }

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "reconciler_build_info",
		Help: "Always 1; labelled with the running version and commit.",
	},
	[]string{"version", "commit"},
)

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}
