// Package activity holds the Temporal activities run by the worker.
package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/syncer"
)

// ErrTypeRunInProgress is the application error type returned when another
// sync run holds the run lock.
const ErrTypeRunInProgress = "RunInProgress"

// SyncRunner runs one orchestrated usage sync.
type SyncRunner interface {
	Run(ctx context.Context, date time.Time, trigger string) (*model.SyncRun, error)
}

// UsageSync contains the usage sync activity.
type UsageSync struct {
	runner SyncRunner
}

// NewUsageSync creates a new UsageSync activity struct.
func NewUsageSync(runner SyncRunner) *UsageSync {
	return &UsageSync{runner: runner}
}

// RunUsageSyncParams holds parameters for RunUsageSync. An empty Date syncs
// the previous day in the worker's timezone.
type RunUsageSyncParams struct {
	Date string `json:"date,omitempty"`
}

// RunUsageSyncResult is the summary of a finished run.
type RunUsageSyncResult struct {
	RunID          string         `json:"run_id"`
	Date           string         `json:"date"`
	State          model.RunState `json:"state"`
	FailedStages   []string       `json:"failed_stages"`
	ItemFailures   int            `json:"item_failures"`
	ReportsWritten int            `json:"reports_written"`
}

// RunUsageSync runs quota sync, usage sync and aggregation for one date.
// A run that is already in progress is reported as a non-retryable error.
// Stage failures are part of the result, not an activity error.
func (a *UsageSync) RunUsageSync(ctx context.Context, params RunUsageSyncParams) (*RunUsageSyncResult, error) {
	var date time.Time
	if params.Date != "" {
		d, err := model.ParseDay(params.Date)
		if err != nil {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "InvalidDate", err)
		}
		date = d
	}

	run, err := a.runner.Run(ctx, date, syncer.TriggerTemporal)
	if err != nil {
		if errors.Is(err, model.ErrRunInProgress) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRunInProgress, err)
		}
		return nil, fmt.Errorf("run usage sync: %w", err)
	}

	activity.GetLogger(ctx).Info("usage sync finished", "run_id", run.ID, "state", string(run.State))
	return &RunUsageSyncResult{
		RunID:          run.ID,
		Date:           run.Date.Format(model.DateLayout),
		State:          run.State,
		FailedStages:   run.FailedStages,
		ItemFailures:   len(run.Failures),
		ReportsWritten: run.ReportsWritten,
	}, nil
}
