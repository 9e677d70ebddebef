package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	taskRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vesper_task_runs_total",
			Help: "Total number of scheduled task runs",
		},
		[]string{"recurrence", "status"},
	)

	taskRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vesper_task_run_duration_seconds",
			Help:    "Scheduled task execution time in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"recurrence"},
	)

	taskDueBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vesper_task_due_backlog",
			Help: "Number of tasks found due at the last beat",
		},
	)

	taskDuplicateSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vesper_task_duplicate_skips_total",
			Help: "Total number of task runs skipped by the duplicate window",
		},
	)

	permissionRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vesper_permission_requests_total",
			Help: "Total number of permission requests created",
		},
	)

	permissionResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vesper_permission_resolutions_total",
			Help: "Total number of permission requests resolved",
		},
		[]string{"outcome"},
	)

	permissionPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vesper_permission_pending",
			Help: "Number of permission requests currently awaiting a response",
		},
	)

	permissionWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vesper_permission_wait_duration_seconds",
			Help:    "Time between permission request creation and resolution",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vesper_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	dbConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vesper_db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vesper_db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordTaskRun(recurrence, status string, duration time.Duration) {
	taskRunsTotal.WithLabelValues(recurrence, status).Inc()
	taskRunDuration.WithLabelValues(recurrence).Observe(duration.Seconds())
}

func RecordDuplicateSkip() {
	taskDuplicateSkips.Inc()
}

func UpdateDueBacklog(count int) {
	taskDueBacklog.Set(float64(count))
}

func RecordPermissionRequest() {
	permissionRequestsTotal.Inc()
	permissionPending.Inc()
}

func RecordPermissionResolution(outcome string, wait time.Duration) {
	permissionResolutions.WithLabelValues(outcome).Inc()
	permissionPending.Dec()
	permissionWaitDuration.Observe(wait.Seconds())
}

func UpdateDBStats(open, inUse, idle int) {
	dbConnectionsOpen.Set(float64(open))
	dbConnectionsInUse.Set(float64(inUse))
	dbConnectionsIdle.Set(float64(idle))
}
