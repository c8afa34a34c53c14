package syncer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/retry"
)

// PeakSyncResult is the outcome of querying daily peaks for an inventory.
type PeakSyncResult struct {
	// Samples are ordered by project then namespace.
	Samples []model.NamespaceUsageSample `json:"samples"`
	// Failed holds one failure per namespace whose query exhausted its
	// retries. Key is the namespace.
	Failed []NamespaceFailure `json:"failed"`
}

// NamespaceFailure is a namespace whose peak could not be read.
type NamespaceFailure struct {
	NamespaceRef
	Err error `json:"-"`
}

// FailedProjects returns the projects with at least one failed namespace.
func (r *PeakSyncResult) FailedProjects() map[string][]string {
	out := make(map[string][]string)
	for _, f := range r.Failed {
		out[f.ProjectName] = append(out[f.ProjectName], f.Namespace)
	}
	return out
}

// MetricsPeakSyncer queries the daily peak of each namespace with a bounded
// number of concurrent queries.
type MetricsPeakSyncer struct {
	source  MetricsSource
	retrier *retry.Retrier
	workers int
	logger  zerolog.Logger
}

func NewMetricsPeakSyncer(source MetricsSource, retrier *retry.Retrier, workers int, logger zerolog.Logger) *MetricsPeakSyncer {
	if workers < 1 {
		workers = 1
	}
	return &MetricsPeakSyncer{
		source:  source,
		retrier: retrier,
		workers: workers,
		logger:  logger.With().Str("component", "metrics-peak-syncer").Logger(),
	}
}

// Sync queries every namespace in inventory for date. A namespace that
// keeps failing is listed in the result and never stops the others. Only
// cancellation of ctx fails the whole call.
func (s *MetricsPeakSyncer) Sync(ctx context.Context, date time.Time, inventory []NamespaceRef) (*PeakSyncResult, error) {
	date = model.Day(date)
	res := &PeakSyncResult{Samples: []model.NamespaceUsageSample{}, Failed: []NamespaceFailure{}}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	seen := make(map[NamespaceRef]bool, len(inventory))
	for _, ref := range inventory {
		if seen[ref] {
			continue
		}
		seen[ref] = true

		ref := ref
		g.Go(func() error {
			var peak model.Peak
			op := fmt.Sprintf("query peak %s", ref.Namespace)
			err := s.retrier.Do(gctx, op, func(ctx context.Context) error {
				var err error
				peak, err = s.source.QueryDailyPeak(ctx, ref.Namespace, date)
				return err
			})
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn().Err(err).Str("project", ref.ProjectName).Str("namespace", ref.Namespace).Msg("namespace peak unavailable")
				res.Failed = append(res.Failed, NamespaceFailure{NamespaceRef: ref, Err: err})
				return nil
			}
			res.Samples = append(res.Samples, model.NamespaceUsageSample{
				ProjectName: ref.ProjectName,
				Namespace:   ref.Namespace,
				Date:        date,
				CPUUsed:     peak.CPU,
				MemUsed:     peak.Mem,
				Source:      model.SampleSourceMetrics,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("query peaks for %s: %w", date.Format(model.DateLayout), err)
	}

	sort.Slice(res.Samples, func(i, j int) bool {
		if res.Samples[i].ProjectName != res.Samples[j].ProjectName {
			return res.Samples[i].ProjectName < res.Samples[j].ProjectName
		}
		return res.Samples[i].Namespace < res.Samples[j].Namespace
	})
	sort.Slice(res.Failed, func(i, j int) bool {
		if res.Failed[i].ProjectName != res.Failed[j].ProjectName {
			return res.Failed[i].ProjectName < res.Failed[j].ProjectName
		}
		return res.Failed[i].Namespace < res.Failed[j].Namespace
	})

	s.logger.Info().
		Time("date", date).
		Int("samples", len(res.Samples)).
		Int("failed", len(res.Failed)).
		Msg("namespace peaks collected")
	return res, nil
}
