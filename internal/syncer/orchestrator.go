package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/metrics"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/platform"
	"github.com/edvin/quotausage/internal/runlock"
	"github.com/edvin/quotausage/internal/store"
)

// LockKey is the run lock key shared by every orchestrator replica.
const LockKey = "usage-sync"

// Run triggers.
const (
	TriggerManual   = "manual"
	TriggerCron     = "cron"
	TriggerTemporal = "temporal"
)

// defaultLeaseTTL bounds how long a crashed holder blocks other runs.
const defaultLeaseTTL = 2 * time.Hour

// Aggregator is the part of core.Aggregator the orchestrator drives.
type Aggregator interface {
	Apply(ctx context.Context, date time.Time, samples []model.NamespaceUsageSample) (*core.AggregateResult, error)
}

// OrchestratorConfig holds the run policy.
type OrchestratorConfig struct {
	Location *time.Location
	// RetentionDays drops staged samples older than this many days before
	// the run date. Zero keeps them forever.
	RetentionDays int
	LeaseTTL      time.Duration
}

// Orchestrator runs quota sync, usage sync and aggregation for one date as
// a single tracked run. At most one run is active at a time across every
// process sharing the locker.
type Orchestrator struct {
	quotas  *ClusterQuotaSyncer
	peaks   *MetricsPeakSyncer
	agg     Aggregator
	samples store.SampleStore
	runs    store.RunStore
	locker  runlock.Locker
	clock   quartz.Clock
	cfg     OrchestratorConfig
	logger  zerolog.Logger

	mu        sync.Mutex
	current   *model.SyncRun
	inventory []NamespaceRef
}

func NewOrchestrator(quotas *ClusterQuotaSyncer, peaks *MetricsPeakSyncer, agg Aggregator, samples store.SampleStore, runs store.RunStore, locker runlock.Locker, clock quartz.Clock, cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	return &Orchestrator{
		quotas:  quotas,
		peaks:   peaks,
		agg:     agg,
		samples: samples,
		runs:    runs,
		locker:  locker,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
	}
}

// DefaultDate is the previous calendar day in the configured timezone.
func (o *Orchestrator) DefaultDate() time.Time {
	return model.PreviousDay(o.clock.Now(), o.cfg.Location)
}

// Run executes one sync for date, or for DefaultDate when date is zero.
// It returns an error wrapping model.ErrRunInProgress when another run
// holds the lock. Stage failures do not fail the call: they are recorded
// on the returned run, which ends failed.
func (o *Orchestrator) Run(ctx context.Context, date time.Time, trigger string) (*model.SyncRun, error) {
	if date.IsZero() {
		date = o.DefaultDate()
	}
	date = model.Day(date)

	lease, err := o.locker.Acquire(ctx, LockKey, o.cfg.LeaseTTL)
	if err != nil {
		if errors.Is(err, model.ErrRunInProgress) {
			o.logger.Info().Str("trigger", trigger).Msg("sync trigger rejected, run in progress")
		}
		return nil, fmt.Errorf("start sync run: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			o.logger.Error().Err(err).Msg("failed to release run lock")
		}
	}()

	run := &model.SyncRun{
		ID:           platform.NewID(),
		Date:         date,
		Trigger:      trigger,
		State:        model.RunStateQuotaSyncing,
		StartedAt:    o.clock.Now(),
		FailedStages: []string{},
		Failures:     []model.StageFailure{},
	}
	o.setCurrent(run)
	metrics.SyncStarted()
	logger := o.logger.With().Str("run_id", run.ID).Time("date", date).Str("trigger", trigger).Logger()
	logger.Info().Msg("sync run started")

	var stageErrs *multierror.Error
	fail := func(stage string, err error) {
		run.FailedStages = append(run.FailedStages, stage)
		run.Failures = append(run.Failures, model.StageFailure{Stage: stage, ItemFailure: model.NewItemFailure(0, stage, err)})
		stageErrs = multierror.Append(stageErrs, fmt.Errorf("%s: %w", stage, err))
	}

	o.execute(ctx, run, fail)

	now := o.clock.Now()
	run.FinishedAt = &now
	run.State = model.RunStateDone
	if len(run.FailedStages) > 0 {
		run.State = model.RunStateFailed
	}
	o.save(context.WithoutCancel(ctx), run)
	o.setCurrent(nil)
	metrics.ObserveSyncRun(*run)

	if err := stageErrs.ErrorOrNil(); err != nil {
		logger.Error().Err(err).Strs("failed_stages", run.FailedStages).Msg("sync run failed")
	} else {
		logger.Info().
			Int("samples", run.SamplesCollected).
			Int("reports", run.ReportsWritten).
			Int("item_failures", len(run.Failures)).
			Msg("sync run finished")
	}
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, run *model.SyncRun, fail func(string, error)) {
	cancelled := func() bool {
		if err := ctx.Err(); err != nil {
			fail(model.StageCancelled, err)
			return true
		}
		return false
	}

	// Quota stage.
	inventory := o.lastInventory()
	quotaRes, err := o.quotas.Sync(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
	case err != nil:
		fail(model.StageQuota, err)
	default:
		run.QuotasCreated = quotaRes.Created
		run.QuotasUpdated = quotaRes.Updated
		run.QuotasUnchanged = quotaRes.Unchanged
		for _, f := range quotaRes.Failures {
			run.Failures = append(run.Failures, model.StageFailure{Stage: model.StageQuota, ItemFailure: f})
		}
		inventory = quotaRes.Namespaces
		o.setInventory(inventory)
	}
	if cancelled() {
		return
	}

	// Usage stage.
	o.transition(run, model.RunStateUsageSyncing)
	var samples []model.NamespaceUsageSample
	excluded := make(map[string]bool)
	switch {
	case len(inventory) == 0 && err != nil:
		fail(model.StageUsage, fmt.Errorf("%w: no namespace inventory", model.ErrSourceUnavailable))
	case len(inventory) > 0:
		peakRes, err := o.peaks.Sync(ctx, run.Date, inventory)
		if err != nil {
			if cancelled() {
				return
			}
			fail(model.StageUsage, err)
			break
		}
		failed := peakRes.FailedProjects()
		for _, f := range peakRes.Failed {
			e := fmt.Errorf("%w: namespace %s: %w", model.ErrPartialMetricsFailure, f.Namespace, f.Err)
			run.Failures = append(run.Failures, model.StageFailure{Stage: model.StageUsage, ItemFailure: model.NewItemFailure(0, f.Namespace, e)})
		}
		projects := make([]string, 0, len(failed))
		for p := range failed {
			projects = append(projects, p)
		}
		sort.Strings(projects)
		for _, p := range projects {
			excluded[p] = true
			e := fmt.Errorf("%w: project %s not aggregated, failed namespaces %v", model.ErrPartialMetricsFailure, p, failed[p])
			run.Failures = append(run.Failures, model.StageFailure{Stage: model.StageAggregate, ItemFailure: model.NewItemFailure(0, p, e)})
		}
		var partial []model.NamespaceUsageSample
		for _, s := range peakRes.Samples {
			if excluded[s.ProjectName] {
				partial = append(partial, s)
				continue
			}
			samples = append(samples, s)
		}
		// Namespaces that did succeed are kept in the ledger so that a later
		// backfill of only the failed ones completes the project.
		if len(partial) > 0 {
			if err := o.samples.Put(ctx, partial); err != nil {
				fail(model.StageUsage, fmt.Errorf("stage partial samples: %w", err))
			}
		}
		if len(peakRes.Samples) == 0 && len(peakRes.Failed) > 0 {
			fail(model.StageUsage, fmt.Errorf("%w: every namespace query failed", model.ErrSourceUnavailable))
		}
	}
	run.SamplesCollected = len(samples)
	if cancelled() {
		return
	}

	// Aggregation stage.
	o.transition(run, model.RunStateAggregating)
	if len(samples) > 0 {
		res, err := o.agg.Apply(ctx, run.Date, samples)
		o.recordAggregate(run, res, err, fail)
	}
	if cancelled() {
		return
	}

	o.prune(ctx, run.Date)
}

func (o *Orchestrator) recordAggregate(run *model.SyncRun, res *core.AggregateResult, err error, fail func(string, error)) {
	if res != nil {
		run.ReportsWritten += len(res.Reports)
		for _, f := range res.Failures {
			run.Failures = append(run.Failures, model.StageFailure{Stage: model.StageAggregate, ItemFailure: f})
		}
	}
	if err != nil {
		fail(model.StageAggregate, err)
	}
}

func (o *Orchestrator) prune(ctx context.Context, date time.Time) {
	if o.cfg.RetentionDays <= 0 {
		return
	}
	before := date.AddDate(0, 0, -o.cfg.RetentionDays)
	n, err := o.samples.Prune(ctx, before)
	if err != nil {
		o.logger.Warn().Err(err).Time("before", before).Msg("failed to prune staged samples")
		return
	}
	if n > 0 {
		o.logger.Info().Int("pruned", n).Time("before", before).Msg("pruned staged samples")
	}
}

// Status returns the active run, if any, and the last finished run.
func (o *Orchestrator) Status(ctx context.Context) (model.SyncStatus, error) {
	status := model.SyncStatus{State: model.RunStateIdle}

	o.mu.Lock()
	if o.current != nil {
		cur := *o.current
		status.Current = &cur
		status.State = cur.State
	}
	o.mu.Unlock()

	runs, err := o.runs.Latest(ctx, 2)
	if err != nil {
		return status, fmt.Errorf("load last sync run: %w", err)
	}
	for i := range runs {
		if status.Current != nil && runs[i].ID == status.Current.ID {
			continue
		}
		status.Last = &runs[i]
		break
	}
	return status, nil
}

func (o *Orchestrator) transition(run *model.SyncRun, state model.RunState) {
	run.State = state
	o.save(context.Background(), run)
}

// setCurrent publishes a snapshot of run as the active run. Status only
// ever reads snapshots, never the run being built.
func (o *Orchestrator) setCurrent(run *model.SyncRun) {
	o.mu.Lock()
	if run == nil {
		o.current = nil
		o.mu.Unlock()
		return
	}
	snapshot := *run
	o.current = &snapshot
	o.mu.Unlock()
	o.save(context.Background(), run)
}

func (o *Orchestrator) save(ctx context.Context, run *model.SyncRun) {
	snapshot := *run
	o.mu.Lock()
	if o.current != nil && o.current.ID == run.ID {
		o.current = &snapshot
	}
	o.mu.Unlock()
	if err := o.runs.Save(ctx, snapshot); err != nil {
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to save sync run")
	}
}

func (o *Orchestrator) lastInventory() []NamespaceRef {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inventory
}

func (o *Orchestrator) setInventory(inv []NamespaceRef) {
	o.mu.Lock()
	o.inventory = inv
	o.mu.Unlock()
}
