package metrics

import "github.com/prometheus/client_golang/prometheus"

// Task Prometheus metrics.
var (
	TasksStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpex",
			Name:      "tasks_started_total",
			Help:      "Total number of tasks started",
		},
		[]string{"kind"},
	)

	TasksCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpex",
			Name:      "tasks_cancelled_total",
			Help:      "Total number of task cancellations requested",
		},
	)

	TasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "corpex",
			Name:      "tasks_running",
			Help:      "Number of tasks currently registered",
		},
	)

	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "corpex",
			Name:      "search_duration_seconds",
			Help:      "Search task work duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)
)

var taskMetricsRegistered bool

// RegisterTaskMetrics registers Prometheus task metrics. Must be called once from main.
func RegisterTaskMetrics() {
	if taskMetricsRegistered {
		return
	}
	prometheus.MustRegister(TasksStartedTotal)
	prometheus.MustRegister(TasksCancelledTotal)
	prometheus.MustRegister(TasksRunning)
	prometheus.MustRegister(SearchDuration)
	taskMetricsRegistered = true
}
