// Package workflow holds the Temporal workflows run by the worker.
package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/quotausage/internal/activity"
	"github.com/edvin/quotausage/internal/model"
)

// DailyUsageSyncWorkflow runs one orchestrated usage sync. It is started by
// the daily cron schedule with an empty date, which syncs the previous day.
// A run with failed stages completes the workflow; the failures are in the
// returned result and the run record.
func DailyUsageSyncWorkflow(ctx workflow.Context, params activity.RunUsageSyncParams) (*activity.RunUsageSyncResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{activity.ErrTypeRunInProgress},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var res activity.RunUsageSyncResult
	err := workflow.ExecuteActivity(ctx, "RunUsageSync", params).Get(ctx, &res)
	if err != nil {
		return nil, fmt.Errorf("run usage sync: %w", err)
	}

	logger := workflow.GetLogger(ctx)
	if res.State == model.RunStateFailed {
		logger.Warn("usage sync finished with failed stages", "run_id", res.RunID, "failed_stages", res.FailedStages)
	} else {
		logger.Info("usage sync finished", "run_id", res.RunID, "reports", res.ReportsWritten)
	}
	return &res, nil
}
