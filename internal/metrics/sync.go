package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edvin/quotausage/internal/model"
)

var (
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_usage_sync_runs_total",
			Help: "Total number of sync runs by trigger and final state",
		},
		[]string{"trigger", "state"},
	)

	syncStageFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_usage_sync_stage_failures_total",
			Help: "Total number of failed sync stages",
		},
		[]string{"stage"},
	)

	syncItemFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_usage_sync_item_failures_total",
			Help: "Total number of per-item sync failures by stage and code",
		},
		[]string{"stage", "code"},
	)

	syncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quota_usage_sync_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"trigger"},
	)

	syncRunInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quota_usage_sync_run_in_progress",
		Help: "1 while a sync run is active in this process",
	})

	reportsWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_usage_reports_written_total",
			Help: "Total number of usage report rows written by source",
		},
		[]string{"source"},
	)
)

// SyncStarted marks a run as active.
func SyncStarted() {
	syncRunInProgress.Set(1)
}

// ObserveSyncRun records a finished run.
func ObserveSyncRun(run model.SyncRun) {
	syncRunInProgress.Set(0)
	syncRunsTotal.WithLabelValues(run.Trigger, string(run.State)).Inc()
	if run.FinishedAt != nil {
		syncRunDuration.WithLabelValues(run.Trigger).Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	}
	for _, stage := range run.FailedStages {
		syncStageFailuresTotal.WithLabelValues(stage).Inc()
	}
	for _, f := range run.Failures {
		syncItemFailuresTotal.WithLabelValues(f.Stage, f.Code).Inc()
	}
	reportsWrittenTotal.WithLabelValues(model.SampleSourceMetrics).Add(float64(run.ReportsWritten))
}

// ReportsWritten counts report rows written from source.
func ReportsWritten(source string, n int) {
	reportsWrittenTotal.WithLabelValues(source).Add(float64(n))
}
