package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments aggregation passes.
type Metrics struct {
	cycles            prometheus.Counter
	failures          prometheus.Counter
	teamFailures      prometheus.Counter
	duration          prometheus.Histogram
	unattributedSales prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregation_cycles_total",
			Help: "Completed aggregation passes.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregation_cycle_failures_total",
			Help: "Aggregation passes that ended in a failed state.",
		}),
		teamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregation_team_failures_total",
			Help: "Per-team fetch or upsert failures inside a pass.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aggregation_cycle_duration_seconds",
			Help:    "Wall-clock duration of aggregation passes.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		unattributedSales: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregation_unattributed_sales_total",
			Help: "Sale events no active UTM mapping could attribute.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.failures, m.teamFailures, m.duration, m.unattributedSales)
	}
	return m
}

func (m *Metrics) observeCycle(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.duration.Observe(d.Seconds())
	if failed {
		m.failures.Inc()
	}
}

func (m *Metrics) incTeamFailure() {
	if m == nil {
		return
	}
	m.teamFailures.Inc()
}

func (m *Metrics) addUnattributed(n int) {
	if m == nil || n == 0 {
		return
	}
	m.unattributedSales.Add(float64(n))
}
