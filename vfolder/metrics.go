package vfolder

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// vfolderMetrics tracks rebuild volume and latency across every VeeFolder
// in the process, mirroring internal/dbadapter/metrics.go's use of
// github.com/prometheus/client_golang — there for query counters, here for
// rebuild counters (§4.8's "coalesced rebuild" is one unit of work worth
// counting regardless of which vFolder triggered it).
var (
	rebuildsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "camelstore",
		Subsystem: "vfolder",
		Name:      "rebuilds_total",
		Help:      "Total vFolder rebuilds started.",
	})
	rebuildsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "camelstore",
		Subsystem: "vfolder",
		Name:      "rebuild_failures_total",
		Help:      "vFolder rebuilds that returned an error.",
	})
	rebuildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "camelstore",
		Subsystem: "vfolder",
		Name:      "rebuild_duration_seconds",
		Help:      "Latency of a full vFolder rebuild (candidate gather plus eval).",
		Buckets:   prometheus.DefBuckets,
	})

	registerOnce sync.Once
)

func init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(rebuildsTotal, rebuildsFailed, rebuildDuration)
	})
}

// trackRebuild increments rebuildsTotal and returns a closure that
// observes rebuild latency and, on failure, increments rebuildsFailed.
func trackRebuild() func(failed bool) {
	rebuildsTotal.Inc()
	start := time.Now()
	return func(failed bool) {
		rebuildDuration.Observe(time.Since(start).Seconds())
		if failed {
			rebuildsFailed.Inc()
		}
	}
}
