package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Mutation metrics
	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modlog_mutations_total",
			Help: "Total number of applied mutations by kind and result",
		},
		[]string{"kind", "result"},
	)

	MutationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modlog_mutation_duration_seconds",
			Help:    "Time the worker spent applying a mutation in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	ConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modlog_conflicts_total",
			Help: "Total number of mutations rejected by the conflict window",
		},
	)

	ValidationRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modlog_validation_rejections_total",
			Help: "Total number of rejected inputs by field",
		},
		[]string{"field"},
	)

	// Bridge metrics
	BridgeQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modlog_bridge_queue_depth",
			Help: "Number of mutations waiting for the worker",
		},
	)

	BridgeTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "modlog_bridge_timeouts_total",
			Help: "Total number of callers that gave up waiting for the worker",
		},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modlog_backups_total",
			Help: "Total number of backups by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modlog_backup_duration_seconds",
			Help:    "Time taken to write and verify a backup archive in seconds",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
	)

	BackupArchives = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modlog_backup_archives",
			Help: "Number of backup archives on disk",
		},
	)

	// Store metrics
	LogEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "modlog_log_entries",
			Help: "Number of log entries in the store",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MutationsTotal)
	prometheus.MustRegister(MutationDuration)
	prometheus.MustRegister(ConflictsTotal)
	prometheus.MustRegister(ValidationRejections)
	prometheus.MustRegister(BridgeQueueDepth)
	prometheus.MustRegister(BridgeTimeouts)
	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(BackupArchives)
	prometheus.MustRegister(LogEntries)
}

// Result label values
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultConflict = "conflict"
)

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
