package dbadapter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics tracks per-Adapter query volume and latency, mirroring the
// teacher's use of github.com/prometheus/client_golang for endpoint
// counters — here scoped to the database adapter rather than a network
// listener.
type metrics struct {
	queries prometheus.Counter
	latency prometheus.Histogram
}

func newMetrics(path string) *metrics {
	m := &metrics{
		queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "camelstore",
			Subsystem:   "dbadapter",
			Name:        "queries_total",
			Help:        "Total statements and queries executed against the store database.",
			ConstLabels: prometheus.Labels{"path": path},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "camelstore",
			Subsystem:   "dbadapter",
			Name:        "query_duration_seconds",
			Help:        "Latency of statements and queries executed against the store database.",
			ConstLabels: prometheus.Labels{"path": path},
			Buckets:     prometheus.DefBuckets,
		}),
	}
	// Registration failures (duplicate path opened twice) are not fatal —
	// the Adapter still functions, just without distinct metrics for the
	// second instance.
	_ = prometheus.Register(m.queries)
	_ = prometheus.Register(m.latency)
	return m
}

func (m *metrics) startQuery() func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.queries.Inc()
	return func() {
		m.latency.Observe(time.Since(start).Seconds())
	}
}
