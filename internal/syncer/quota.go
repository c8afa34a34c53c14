// Package syncer pulls quota allocations from clusters and daily usage
// peaks from the metrics backend, and orchestrates both into report rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/retry"
	"github.com/edvin/quotausage/internal/store"
)

// ClusterQuotaSource lists the quota allocation of every project namespace.
type ClusterQuotaSource interface {
	ListQuotas(ctx context.Context) ([]model.ClusterQuota, error)
}

// MetricsSource reports the daily peak usage of a namespace.
type MetricsSource interface {
	QueryDailyPeak(ctx context.Context, namespace string, date time.Time) (model.Peak, error)
}

// NamespaceRef ties a namespace to the project it belongs to.
type NamespaceRef struct {
	ProjectName string `json:"project_name"`
	Namespace   string `json:"namespace"`
}

// QuotaSyncResult is the outcome of one cluster quota sync.
type QuotaSyncResult struct {
	Created   int                 `json:"created"`
	Updated   int                 `json:"updated"`
	Unchanged int                 `json:"unchanged"`
	Failures  []model.ItemFailure `json:"failures"`
	// Namespaces is the project inventory seen in the listing, ordered by
	// project then namespace.
	Namespaces []NamespaceRef `json:"namespaces"`
}

// ClusterQuotaSyncer mirrors cluster quota allocations into the quota store.
type ClusterQuotaSyncer struct {
	source  ClusterQuotaSource
	quotas  store.QuotaStore
	retrier *retry.Retrier
	clock   quartz.Clock
	logger  zerolog.Logger
}

func NewClusterQuotaSyncer(source ClusterQuotaSource, quotas store.QuotaStore, retrier *retry.Retrier, clock quartz.Clock, logger zerolog.Logger) *ClusterQuotaSyncer {
	return &ClusterQuotaSyncer{
		source:  source,
		quotas:  quotas,
		retrier: retrier,
		clock:   clock,
		logger:  logger.With().Str("component", "cluster-quota-syncer").Logger(),
	}
}

type projectQuota struct {
	name       string
	cpu        decimal.Decimal
	mem        decimal.Decimal
	cloudIDs   []string
	namespaces []string
}

// Sync lists every namespace quota and upserts one record per project.
// The listing is read in full before the store is touched, so an
// unavailable source leaves the store as it was. A project whose cloud id
// cannot be resolved is reported and the others continue.
func (s *ClusterQuotaSyncer) Sync(ctx context.Context) (*QuotaSyncResult, error) {
	var listing []model.ClusterQuota
	err := s.retrier.Do(ctx, "list cluster quotas", func(ctx context.Context) error {
		var err error
		listing, err = s.source.ListQuotas(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, model.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
		}
		return nil, err
	}

	projects := groupByProject(listing)
	res := &QuotaSyncResult{
		Failures:   []model.ItemFailure{},
		Namespaces: []NamespaceRef{},
	}
	for _, p := range projects {
		for _, ns := range p.namespaces {
			res.Namespaces = append(res.Namespaces, NamespaceRef{ProjectName: p.name, Namespace: ns})
		}
	}

	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("sync cluster quotas: %w", err)
		}
		created, changed, err := s.syncProject(ctx, p)
		if err != nil {
			s.logger.Warn().Err(err).Str("project", p.name).Msg("skipping project")
			res.Failures = append(res.Failures, model.NewItemFailure(0, p.name, err))
			continue
		}
		switch {
		case !changed:
			res.Unchanged++
		case created:
			res.Created++
		default:
			res.Updated++
		}
	}

	s.logger.Info().
		Int("projects", len(projects)).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Int("failed", len(res.Failures)).
		Msg("cluster quotas synced")
	return res, nil
}

func (s *ClusterQuotaSyncer) syncProject(ctx context.Context, p projectQuota) (created, changed bool, err error) {
	cloudID, err := s.resolveCloudID(ctx, p)
	if err != nil {
		return false, false, err
	}

	rec := model.QuotaRecord{
		CloudID:     cloudID,
		ProjectName: p.name,
		CPUQuota:    p.cpu,
		MemQuota:    p.mem,
		Source:      model.QuotaSourceCluster,
	}
	existing, err := s.quotas.Get(ctx, rec.Key())
	switch {
	case err == nil && existing.SameQuota(rec):
		return false, false, nil
	case err != nil && !errors.Is(err, model.ErrQuotaRecordNotFound):
		return false, false, fmt.Errorf("get quota %s: %w", rec.Key(), err)
	}

	now := s.clock.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	prior, err := s.quotas.Upsert(ctx, rec)
	if err != nil {
		return false, false, fmt.Errorf("upsert quota %s: %w", rec.Key(), err)
	}
	return prior == nil, true, nil
}

func (s *ClusterQuotaSyncer) resolveCloudID(ctx context.Context, p projectQuota) (string, error) {
	switch len(p.cloudIDs) {
	case 1:
		return p.cloudIDs[0], nil
	case 0:
	default:
		return "", fmt.Errorf("project %s: %w: conflicting cloud ids %v", p.name, model.ErrUnresolvableCloudID, p.cloudIDs)
	}

	existing, err := s.quotas.ListByProject(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("list quotas for %s: %w", p.name, err)
	}
	switch len(existing) {
	case 1:
		return existing[0].CloudID, nil
	case 0:
		return "", fmt.Errorf("project %s: %w: no cloud id annotation and no existing record", p.name, model.ErrUnresolvableCloudID)
	default:
		return "", fmt.Errorf("project %s: %w: %d existing records", p.name, model.ErrUnresolvableCloudID, len(existing))
	}
}

// groupByProject sums namespace quotas per project. Namespaces and distinct
// cloud ids are collected in sorted order.
func groupByProject(listing []model.ClusterQuota) []projectQuota {
	byName := make(map[string]*projectQuota)
	seenNS := make(map[NamespaceRef]bool)
	for _, q := range listing {
		p, ok := byName[q.ProjectName]
		if !ok {
			p = &projectQuota{name: q.ProjectName, cpu: decimal.Zero, mem: decimal.Zero}
			byName[q.ProjectName] = p
		}
		p.cpu = p.cpu.Add(q.CPUQuota)
		p.mem = p.mem.Add(q.MemQuota)
		if q.CloudID != "" && !slices.Contains(p.cloudIDs, q.CloudID) {
			p.cloudIDs = append(p.cloudIDs, q.CloudID)
		}
		ref := NamespaceRef{ProjectName: q.ProjectName, Namespace: q.Namespace}
		if !seenNS[ref] {
			seenNS[ref] = true
			p.namespaces = append(p.namespaces, q.Namespace)
		}
	}

	out := make([]projectQuota, 0, len(byName))
	for _, p := range byName {
		sort.Strings(p.cloudIDs)
		sort.Strings(p.namespaces)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
