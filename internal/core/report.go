package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/store"
)

type ReportService struct {
	reports store.ReportStore
}

func NewReportService(reports store.ReportStore) *ReportService {
	return &ReportService{reports: reports}
}

// Query returns the reports dated within [from, to].
func (s *ReportService) Query(ctx context.Context, from, to time.Time) ([]model.UsageReport, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	reports, err := s.reports.Query(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	return reports, nil
}

func (s *ReportService) ListDates(ctx context.Context) ([]time.Time, error) {
	dates, err := s.reports.ListDates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list report dates: %w", err)
	}
	return dates, nil
}

func (s *ReportService) Get(ctx context.Context, projectName string, date time.Time) (*model.UsageReport, error) {
	report, err := s.reports.Get(ctx, projectName, date)
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if report == nil {
		return nil, fmt.Errorf("%w: %s on %s", model.ErrReportNotFound, projectName, date.Format(model.DateLayout))
	}
	return report, nil
}

func checkRange(from, to time.Time) error {
	if model.Day(from).After(model.Day(to)) {
		return fmt.Errorf("%w: from %s is after to %s", model.ErrInvalidRange,
			from.Format(model.DateLayout), to.Format(model.DateLayout))
	}
	return nil
}
