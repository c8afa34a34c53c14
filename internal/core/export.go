package core

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/store"
	"github.com/edvin/quotausage/internal/tabular"
)

var exportHeader = []string{"cloud_id", "year", "month", "day", "cpu_pct", "mem_pct"}

const exportSheet = "utilization"

// ExportResult holds the export rows and the reports that could not be
// attributed to a single cloud id.
type ExportResult struct {
	Rows     []model.ExportRow   `json:"rows"`
	Failures []model.ItemFailure `json:"failures"`
}

type ExportService struct {
	reports store.ReportStore
	quotas  store.QuotaStore
}

func NewExportService(reports store.ReportStore, quotas store.QuotaStore) *ExportService {
	return &ExportService{reports: reports, quotas: quotas}
}

// Export joins the reports dated within [from, to] with their quota
// record's cloud id. Rows are ordered by date then cloud id.
func (s *ExportService) Export(ctx context.Context, from, to time.Time) (*ExportResult, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	reports, err := s.reports.Query(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}

	res := &ExportResult{Rows: []model.ExportRow{}, Failures: []model.ItemFailure{}}
	cloudIDs := make(map[string][]model.QuotaRecord)
	for _, r := range reports {
		records, ok := cloudIDs[r.ProjectName]
		if !ok {
			records, err = s.quotas.ListByProject(ctx, r.ProjectName)
			if err != nil {
				return nil, fmt.Errorf("resolve cloud id for %s: %w", r.ProjectName, err)
			}
			cloudIDs[r.ProjectName] = records
		}

		key := r.ProjectName + "@" + r.Date.Format(model.DateLayout)
		switch len(records) {
		case 0:
			res.Failures = append(res.Failures, model.NewItemFailure(0, key,
				fmt.Errorf("project %s: %w", r.ProjectName, model.ErrCloudIDMissing)))
			continue
		case 1:
		default:
			res.Failures = append(res.Failures, model.NewItemFailure(0, key,
				fmt.Errorf("project %s has %d quota records: %w", r.ProjectName, len(records), model.ErrAmbiguousProject)))
			continue
		}

		y, m, d := r.Date.Date()
		res.Rows = append(res.Rows, model.ExportRow{
			CloudID: records[0].CloudID,
			Year:    y,
			Month:   int(m),
			Day:     d,
			CPUPct:  r.CPUPct,
			MemPct:  r.MemPct,
		})
	}

	sort.SliceStable(res.Rows, func(i, j int) bool {
		a, b := res.Rows[i], res.Rows[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Month != b.Month {
			return a.Month < b.Month
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		return a.CloudID < b.CloudID
	})
	return res, nil
}

// WriteTo encodes rows with a header. Percentages carry exactly two
// decimal places.
func (s *ExportService) WriteTo(w io.Writer, format tabular.Format, rows []model.ExportRow) error {
	table := make([][]string, 0, len(rows)+1)
	table = append(table, exportHeader)
	for _, r := range rows {
		table = append(table, []string{
			r.CloudID,
			strconv.Itoa(r.Year),
			strconv.Itoa(r.Month),
			strconv.Itoa(r.Day),
			r.CPUPct.StringFixed(2),
			r.MemPct.StringFixed(2),
		})
	}
	if err := tabular.WriteRows(w, format, exportSheet, table); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}
