package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/quotausage/internal/activity"
	"github.com/edvin/quotausage/internal/app"
	"github.com/edvin/quotausage/internal/config"
	"github.com/edvin/quotausage/internal/logging"
	"github.com/edvin/quotausage/internal/metrics"
	"github.com/edvin/quotausage/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate("worker"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise")
	}
	defer a.Close()

	tc, err := temporalclient.Dial(temporalclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	defer tc.Close()

	w := worker.New(tc, cfg.TemporalTaskQueue, worker.Options{})

	w.RegisterActivity(activity.NewUsageSync(a.Orchestrator))
	w.RegisterWorkflow(workflow.DailyUsageSyncWorkflow)

	if cfg.MetricsListenAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsListenAddr, a.Ready)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	go func() {
		logger.Info().Str("taskQueue", cfg.TemporalTaskQueue).Msg("starting temporal worker")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("worker failed")
		}
	}()

	if cfg.SyncScheduler == config.SchedulerTemporal {
		registerSyncSchedule(ctx, tc, cfg, logger)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down worker")
	cancel()
}

const syncScheduleID = "daily-usage-sync"

// registerSyncSchedule creates the daily sync schedule. An existing
// schedule is left as it is so that re-deploys do not fail.
func registerSyncSchedule(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	_, err := tc.ScheduleClient().Create(ctx, temporalclient.ScheduleOptions{
		ID: syncScheduleID,
		Spec: temporalclient.ScheduleSpec{
			CronExpressions: []string{cfg.SyncSchedule},
			TimeZoneName:    cfg.SyncTimezone,
		},
		Action: &temporalclient.ScheduleWorkflowAction{
			ID:                       syncScheduleID,
			Workflow:                 workflow.DailyUsageSyncWorkflow,
			Args:                     []interface{}{activity.RunUsageSyncParams{}},
			TaskQueue:                cfg.TemporalTaskQueue,
			WorkflowExecutionTimeout: 6 * time.Hour,
		},
	})
	if err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
			logger.Info().Str("id", syncScheduleID).Msg("sync schedule already exists, skipping")
			return
		}
		logger.Fatal().Err(err).Str("id", syncScheduleID).Msg("failed to create sync schedule")
	}
	logger.Info().Str("id", syncScheduleID).Str("cron", cfg.SyncSchedule).Str("timezone", cfg.SyncTimezone).Msg("created sync schedule")
}
