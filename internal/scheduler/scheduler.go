// Package scheduler triggers the daily usage sync in-process on a cron
// schedule, for deployments that do not run the Temporal worker.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/syncer"
)

// Runner runs one orchestrated usage sync.
type Runner interface {
	Run(ctx context.Context, date time.Time, trigger string) (*model.SyncRun, error)
}

type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	loc      *time.Location
	runner   Runner
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec, a standard five-field cron expression evaluated in loc.
func New(spec string, loc *time.Location, runner Runner, logger zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sync schedule %q: %w", spec, err)
	}

	logger = logger.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		schedule: schedule,
		loc:      loc,
		runner:   runner,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&s.logger))),
	)
	s.cron.Schedule(schedule, cron.FuncJob(s.tick))
	return s, nil
}

// Next returns the first scheduled run after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.loc))
}

func (s *Scheduler) Start() {
	s.logger.Info().Time("next", s.Next(time.Now())).Msg("sync scheduler started")
	s.cron.Start()
}

// Stop cancels a tick in progress and waits for it to return or for ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("sync run still active at shutdown")
	}
}

func (s *Scheduler) tick() {
	run, err := s.runner.Run(s.ctx, time.Time{}, syncer.TriggerCron)
	switch {
	case errors.Is(err, model.ErrRunInProgress):
		s.logger.Info().Msg("scheduled sync skipped, run in progress")
	case err != nil:
		s.logger.Error().Err(err).Msg("scheduled sync failed to start")
	case run.State == model.RunStateFailed:
		s.logger.Warn().Str("run_id", run.ID).Strs("failed_stages", run.FailedStages).Msg("scheduled sync finished with failed stages")
	default:
		s.logger.Info().Str("run_id", run.ID).Int("reports", run.ReportsWritten).Msg("scheduled sync finished")
	}
}
