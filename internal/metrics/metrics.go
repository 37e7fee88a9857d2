package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	TasksProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskline_tasks_processed_total",
		Help: "Tasks processed by the sweeper, labeled by workflow and outcome.",
	}, []string{"workflow", "result"})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskline_sweep_duration_seconds",
		Help:    "Wall-clock duration of one sweep (claim + process batch).",
		Buckets: prometheus.DefBuckets,
	})

	TasksClaimed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskline_tasks_claimed_total",
		Help: "Tasks returned by the atomic claim operation.",
	})

	StreamConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskline_stream_connections",
		Help: "Currently open SSE stream connections.",
	})
)

func init() {
	prometheus.MustRegister(TasksProcessed, SweepDuration, TasksClaimed, StreamConnections)
}
