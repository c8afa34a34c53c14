package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/edvin/quotausage/internal/model"
)

func TestObserveSyncRun(t *testing.T) {
	start := time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)

	before := testutil.ToFloat64(syncRunsTotal.WithLabelValues("test-observe", "failed"))
	stageBefore := testutil.ToFloat64(syncStageFailuresTotal.WithLabelValues(model.StageQuota))
	itemBefore := testutil.ToFloat64(syncItemFailuresTotal.WithLabelValues(model.StageUsage, "partial_metrics_failure"))

	SyncStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(syncRunInProgress))

	ObserveSyncRun(model.SyncRun{
		Trigger:      "test-observe",
		State:        model.RunStateFailed,
		StartedAt:    start,
		FinishedAt:   &end,
		FailedStages: []string{model.StageQuota},
		Failures: []model.StageFailure{
			{Stage: model.StageUsage, ItemFailure: model.ItemFailure{Key: "ns-a", Code: "partial_metrics_failure"}},
		},
	})

	assert.Equal(t, float64(0), testutil.ToFloat64(syncRunInProgress))
	assert.Equal(t, before+1, testutil.ToFloat64(syncRunsTotal.WithLabelValues("test-observe", "failed")))
	assert.Equal(t, stageBefore+1, testutil.ToFloat64(syncStageFailuresTotal.WithLabelValues(model.StageQuota)))
	assert.Equal(t, itemBefore+1, testutil.ToFloat64(syncItemFailuresTotal.WithLabelValues(model.StageUsage, "partial_metrics_failure")))
}

func TestReportsWritten(t *testing.T) {
	before := testutil.ToFloat64(reportsWrittenTotal.WithLabelValues(model.SampleSourceUpload))
	ReportsWritten(model.SampleSourceUpload, 3)
	assert.Equal(t, before+3, testutil.ToFloat64(reportsWrittenTotal.WithLabelValues(model.SampleSourceUpload)))
}

func TestNewServer(t *testing.T) {
	srv := NewServer(":0", nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "quota_usage_sync_run_in_progress")
}

func TestNewServer_Readyz(t *testing.T) {
	var down error
	srv := NewServer(":0", func(context.Context) error { return down })

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down = errors.New("redis: connection refused")
	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
