package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edvin/quotausage/internal/model"
)

// MemoryQuotaStore is a QuotaStore held in process memory.
type MemoryQuotaStore struct {
	mu      sync.RWMutex
	records map[model.QuotaKey]model.QuotaRecord
	order   []model.QuotaKey
}

func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{records: make(map[model.QuotaKey]model.QuotaRecord)}
}

func (s *MemoryQuotaStore) Upsert(_ context.Context, rec model.QuotaRecord) (*model.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rec.Key()
	prior, ok := s.records[key]
	if ok {
		rec.CreatedAt = prior.CreatedAt
		s.records[key] = rec
		return &prior, nil
	}
	s.records[key] = rec
	s.order = append(s.order, key)
	return nil, nil
}

func (s *MemoryQuotaStore) Delete(_ context.Context, key model.QuotaKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("delete quota %s: %w", key, model.ErrQuotaRecordNotFound)
	}
	delete(s.records, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryQuotaStore) Get(_ context.Context, key model.QuotaKey) (*model.QuotaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("get quota %s: %w", key, model.ErrQuotaRecordNotFound)
	}
	return &rec, nil
}

func (s *MemoryQuotaStore) ListByProject(_ context.Context, projectName string) ([]model.QuotaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.QuotaRecord
	for _, k := range s.order {
		if k.ProjectName == projectName {
			out = append(out, s.records[k])
		}
	}
	return out, nil
}

func (s *MemoryQuotaStore) List(_ context.Context) ([]model.QuotaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.QuotaRecord, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.records[k])
	}
	return out, nil
}

type reportKey struct {
	project string
	date    time.Time
}

// MemoryReportStore is a ReportStore held in process memory.
type MemoryReportStore struct {
	mu      sync.RWMutex
	reports map[reportKey]model.UsageReport
}

func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{reports: make(map[reportKey]model.UsageReport)}
}

func (s *MemoryReportStore) Upsert(_ context.Context, report model.UsageReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	report.Date = model.Day(report.Date)
	s.reports[reportKey{report.ProjectName, report.Date}] = report
	return nil
}

func (s *MemoryReportStore) Get(_ context.Context, projectName string, date time.Time) (*model.UsageReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reports[reportKey{projectName, model.Day(date)}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryReportStore) Query(_ context.Context, from, to time.Time) ([]model.UsageReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from, to = model.Day(from), model.Day(to)
	out := []model.UsageReport{}
	for k, r := range s.reports {
		if k.date.Before(from) || k.date.After(to) {
			continue
		}
		out = append(out, r)
	}
	sortReports(out)
	return out, nil
}

func (s *MemoryReportStore) ListDates(_ context.Context) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[time.Time]struct{})
	dates := []time.Time{}
	for k := range s.reports {
		if _, ok := seen[k.date]; ok {
			continue
		}
		seen[k.date] = struct{}{}
		dates = append(dates, k.date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	return dates, nil
}

func sortReports(reports []model.UsageReport) {
	sort.SliceStable(reports, func(i, j int) bool {
		if !reports[i].Date.Equal(reports[j].Date) {
			return reports[i].Date.Before(reports[j].Date)
		}
		return reports[i].ProjectName < reports[j].ProjectName
	})
}

// MemorySampleStore is a SampleStore held in process memory.
type MemorySampleStore struct {
	mu     sync.Mutex
	byDate map[time.Time]map[model.SampleKey]model.NamespaceUsageSample
}

func NewMemorySampleStore() *MemorySampleStore {
	return &MemorySampleStore{byDate: make(map[time.Time]map[model.SampleKey]model.NamespaceUsageSample)}
}

func (s *MemorySampleStore) Put(_ context.Context, samples []model.NamespaceUsageSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		key := sample.Key()
		sample.Date = key.Date
		day, ok := s.byDate[key.Date]
		if !ok {
			day = make(map[model.SampleKey]model.NamespaceUsageSample)
			s.byDate[key.Date] = day
		}
		day[key] = sample
	}
	return nil
}

func (s *MemorySampleStore) ForDate(_ context.Context, date time.Time) ([]model.NamespaceUsageSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := s.byDate[model.Day(date)]
	out := make([]model.NamespaceUsageSample, 0, len(day))
	for _, sample := range day {
		out = append(out, sample)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectName != out[j].ProjectName {
			return out[i].ProjectName < out[j].ProjectName
		}
		return out[i].Namespace < out[j].Namespace
	})
	return out, nil
}

func (s *MemorySampleStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = model.Day(before)
	n := 0
	for date, day := range s.byDate {
		if date.Before(before) {
			n += len(day)
			delete(s.byDate, date)
		}
	}
	return n, nil
}

// MemoryRunStore keeps the most recent runs in memory.
type MemoryRunStore struct {
	mu    sync.Mutex
	limit int
	runs  []model.SyncRun
}

func NewMemoryRunStore(limit int) *MemoryRunStore {
	if limit <= 0 {
		limit = 100
	}
	return &MemoryRunStore{limit: limit}
}

func (s *MemoryRunStore) Save(_ context.Context, run model.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	s.runs = append(s.runs, run)
	if len(s.runs) > s.limit {
		s.runs = s.runs[len(s.runs)-s.limit:]
	}
	return nil
}

func (s *MemoryRunStore) Latest(_ context.Context, limit int) ([]model.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []model.SyncRun{}
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}
