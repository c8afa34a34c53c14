package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/store"
)

// pctPlaces is the precision of stored utilization percentages.
const pctPlaces = 4

var hundred = decimal.NewFromInt(100)

// AggregateResult is the outcome of aggregating one date.
type AggregateResult struct {
	Date     time.Time           `json:"date"`
	Reports  []model.UsageReport `json:"reports"`
	Failures []model.ItemFailure `json:"failures"`
}

// Aggregator turns namespace samples into per-project utilization reports.
// Samples are staged per (project, namespace, date) so that uploads and
// metrics for the same day reconcile by last write, and reports are always
// computed from the full staged set of a project.
type Aggregator struct {
	quotas  store.QuotaStore
	reports store.ReportStore
	samples store.SampleStore
	clock   quartz.Clock
	logger  zerolog.Logger
	locks   *keyMutex
}

func NewAggregator(quotas store.QuotaStore, reports store.ReportStore, samples store.SampleStore, clock quartz.Clock, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		quotas:  quotas,
		reports: reports,
		samples: samples,
		clock:   clock,
		logger:  logger.With().Str("component", "aggregator").Logger(),
		locks:   newKeyMutex(),
	}
}

// Compute groups samples by project and derives utilization against the
// project's quota record. It is pure: a later sample for the same
// (project, namespace) replaces an earlier one, projects are returned in
// name order, and a project that cannot be resolved to exactly one usable
// quota record is reported as a failure without affecting the others.
func Compute(date time.Time, samples []model.NamespaceUsageSample, quotas map[string][]model.QuotaRecord) ([]model.UsageReport, []model.ItemFailure) {
	date = model.Day(date)

	type nsKey struct{ project, namespace string }
	latest := make(map[nsKey]model.NamespaceUsageSample, len(samples))
	for _, s := range samples {
		latest[nsKey{s.ProjectName, s.Namespace}] = s
	}

	totals := make(map[string]*model.Peak)
	for k, s := range latest {
		t, ok := totals[k.project]
		if !ok {
			t = &model.Peak{CPU: decimal.Zero, Mem: decimal.Zero}
			totals[k.project] = t
		}
		t.CPU = t.CPU.Add(s.CPUUsed)
		t.Mem = t.Mem.Add(s.MemUsed)
	}

	projects := make([]string, 0, len(totals))
	for p := range totals {
		projects = append(projects, p)
	}
	sort.Strings(projects)

	reports := []model.UsageReport{}
	failures := []model.ItemFailure{}
	for _, project := range projects {
		used := totals[project]
		quota, err := resolveQuota(project, quotas[project])
		if err != nil {
			failures = append(failures, model.NewItemFailure(0, project, err))
			continue
		}
		reports = append(reports, model.UsageReport{
			ProjectName: project,
			Date:        date,
			CPUPct:      percent(used.CPU, quota.CPUQuota),
			MemPct:      percent(used.Mem, quota.MemQuota),
			CPUUsed:     used.CPU,
			MemUsed:     used.Mem,
		})
	}
	return reports, failures
}

func resolveQuota(project string, records []model.QuotaRecord) (model.QuotaRecord, error) {
	switch len(records) {
	case 0:
		return model.QuotaRecord{}, fmt.Errorf("project %s: %w", project, model.ErrQuotaNotFound)
	case 1:
	default:
		ids := make([]string, len(records))
		for i, r := range records {
			ids[i] = r.CloudID
		}
		return model.QuotaRecord{}, fmt.Errorf("project %s has %d quota records %v: %w", project, len(records), ids, model.ErrAmbiguousProject)
	}

	q := records[0]
	if q.CPUQuota.IsZero() || q.MemQuota.IsZero() {
		return model.QuotaRecord{}, fmt.Errorf("project %s (cloud %s): %w", project, q.CloudID, model.ErrDivisionByZeroQuota)
	}
	return q, nil
}

func percent(used, quota decimal.Decimal) decimal.Decimal {
	return used.Div(quota).Mul(hundred).Round(pctPlaces)
}

// Apply stages samples for date and recomputes every project they touch.
// Samples carrying another date are moved to date.
func (a *Aggregator) Apply(ctx context.Context, date time.Time, samples []model.NamespaceUsageSample) (*AggregateResult, error) {
	date = model.Day(date)
	staged := make([]model.NamespaceUsageSample, len(samples))
	projects := make([]string, 0)
	seen := make(map[string]bool)
	for i, s := range samples {
		s.Date = date
		staged[i] = s
		if !seen[s.ProjectName] {
			seen[s.ProjectName] = true
			projects = append(projects, s.ProjectName)
		}
	}

	if err := a.samples.Put(ctx, staged); err != nil {
		return nil, fmt.Errorf("stage samples for %s: %w", date.Format(model.DateLayout), err)
	}
	return a.Recompute(ctx, date, projects)
}

// Recompute rebuilds the reports of projects on date from the staged
// samples. Each (project, date) row is written under its own lock, held
// from reading the staged samples until the row is stored, so concurrent
// writers of one row never interleave. Rows are committed one by one and a
// failure never rolls back rows already written.
func (a *Aggregator) Recompute(ctx context.Context, date time.Time, projects []string) (*AggregateResult, error) {
	date = model.Day(date)
	res := &AggregateResult{Date: date, Reports: []model.UsageReport{}, Failures: []model.ItemFailure{}}
	if len(projects) == 0 {
		return res, nil
	}

	keys := make([]string, 0, len(projects))
	wanted := make(map[string]bool, len(projects))
	for _, p := range projects {
		if wanted[p] {
			continue
		}
		wanted[p] = true
		keys = append(keys, lockKey(p, date))
	}
	sort.Strings(keys)
	for _, k := range keys {
		a.locks.Lock(k)
	}
	defer func() {
		for _, k := range keys {
			a.locks.Unlock(k)
		}
	}()

	all, err := a.samples.ForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load samples for %s: %w", date.Format(model.DateLayout), err)
	}
	var samples []model.NamespaceUsageSample
	for _, s := range all {
		if wanted[s.ProjectName] {
			samples = append(samples, s)
		}
	}

	quotas := make(map[string][]model.QuotaRecord, len(wanted))
	for p := range wanted {
		records, err := a.quotas.ListByProject(ctx, p)
		if err != nil {
			res.Failures = append(res.Failures, model.NewItemFailure(0, p, fmt.Errorf("load quota for %s: %w", p, err)))
			continue
		}
		quotas[p] = records
	}

	reports, failures := Compute(date, samples, quotas)
	for _, f := range failures {
		if !hasFailure(res.Failures, f.Key) {
			res.Failures = append(res.Failures, f)
		}
	}

	now := a.clock.Now()
	for _, r := range reports {
		if hasFailure(res.Failures, r.ProjectName) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("aggregate %s: %w", date.Format(model.DateLayout), err)
		}
		r.UpdatedAt = now
		if err := a.reports.Upsert(ctx, r); err != nil {
			a.logger.Error().Err(err).Str("project", r.ProjectName).Time("date", date).Msg("failed to write report")
			res.Failures = append(res.Failures, model.NewItemFailure(0, r.ProjectName, err))
			continue
		}
		res.Reports = append(res.Reports, r)
	}

	if len(res.Failures) > 0 {
		a.logger.Warn().Time("date", date).Int("written", len(res.Reports)).Int("failed", len(res.Failures)).Msg("aggregation finished with failures")
	}
	return res, nil
}

// RecomputeDate rebuilds every project with staged samples on date, for
// example after quota corrections.
func (a *Aggregator) RecomputeDate(ctx context.Context, date time.Time) (*AggregateResult, error) {
	staged, err := a.samples.ForDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load samples for %s: %w", model.Day(date).Format(model.DateLayout), err)
	}
	var projects []string
	for _, s := range staged {
		if len(projects) == 0 || projects[len(projects)-1] != s.ProjectName {
			projects = append(projects, s.ProjectName)
		}
	}
	return a.Recompute(ctx, date, projects)
}

func lockKey(project string, date time.Time) string {
	return project + "|" + date.Format(model.DateLayout)
}

func hasFailure(failures []model.ItemFailure, key string) bool {
	for _, f := range failures {
		if f.Key == key {
			return true
		}
	}
	return false
}
