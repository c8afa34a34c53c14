package core

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/coder/quartz"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/store"
	"github.com/edvin/quotausage/internal/tabular"
)

var validate = validator.New()

// Column order of a quota sheet.
var quotaSheetHeader = []string{"cloud_id", "project_name", "cpu_quota", "mem_quota"}

type QuotaService struct {
	quotas store.QuotaStore
	clock  quartz.Clock
}

func NewQuotaService(quotas store.QuotaStore, clock quartz.Clock) *QuotaService {
	return &QuotaService{quotas: quotas, clock: clock}
}

func (s *QuotaService) List(ctx context.Context) ([]model.QuotaRecord, error) {
	records, err := s.quotas.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	return records, nil
}

func (s *QuotaService) Get(ctx context.Context, key model.QuotaKey) (*model.QuotaRecord, error) {
	return s.quotas.Get(ctx, key)
}

func (s *QuotaService) ListByProject(ctx context.Context, projectName string) ([]model.QuotaRecord, error) {
	records, err := s.quotas.ListByProject(ctx, projectName)
	if err != nil {
		return nil, fmt.Errorf("list quotas for %s: %w", projectName, err)
	}
	return records, nil
}

// Upsert inserts or replaces a record and returns the prior value, if any.
func (s *QuotaService) Upsert(ctx context.Context, rec model.QuotaRecord) (*model.QuotaRecord, error) {
	if rec.CloudID == "" || rec.ProjectName == "" {
		return nil, fmt.Errorf("%w: cloud_id and project_name are required", model.ErrInvalidQuota)
	}
	if rec.CPUQuota.IsNegative() || rec.MemQuota.IsNegative() {
		return nil, fmt.Errorf("%w: quotas must not be negative", model.ErrInvalidQuota)
	}
	if rec.Source == "" {
		rec.Source = model.QuotaSourceManual
	}
	now := s.clock.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	prior, err := s.quotas.Upsert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("upsert quota %s: %w", rec.Key(), err)
	}
	return prior, nil
}

func (s *QuotaService) Delete(ctx context.Context, key model.QuotaKey) error {
	return s.quotas.Delete(ctx, key)
}

// BulkImport validates and applies rows in order. A row that fails
// validation or storage is reported and the remaining rows continue. When
// the same key appears twice the later row wins. Rows whose quota values
// match the stored record are left untouched and counted as unchanged.
func (s *QuotaService) BulkImport(ctx context.Context, rows []model.QuotaImportRow) (model.ImportResult, error) {
	res := model.ImportResult{Failures: []model.ItemFailure{}}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("import quotas: %w", err)
		}
		if row.Row == 0 {
			row.Row = i + 1
		}
		key := model.QuotaKey{CloudID: row.CloudID, ProjectName: row.ProjectName}.String()

		rec, err := toQuotaRecord(row)
		if err != nil {
			res.Failures = append(res.Failures, model.NewItemFailure(row.Row, key, err))
			continue
		}

		existing, err := s.quotas.Get(ctx, rec.Key())
		if err == nil && existing.SameQuota(rec) {
			res.Unchanged++
			continue
		}

		prior, err := s.Upsert(ctx, rec)
		if err != nil {
			res.Failures = append(res.Failures, model.NewItemFailure(row.Row, key, err))
			continue
		}
		if prior == nil {
			res.Created++
		} else {
			res.Updated++
		}
	}

	return res, nil
}

// ImportFile decodes an xlsx or csv quota sheet and imports its rows. The
// first row is a header. Row numbers in failures match the sheet.
func (s *QuotaService) ImportFile(ctx context.Context, filename string, r io.Reader) (model.ImportResult, error) {
	format, err := tabular.FormatFromFilename(filename)
	if err != nil {
		return model.ImportResult{}, err
	}
	table, err := tabular.ReadRows(format, r)
	if err != nil {
		return model.ImportResult{}, fmt.Errorf("%w: %v", model.ErrInvalidRow, err)
	}

	rows := make([]model.QuotaImportRow, 0, len(table))
	for i, cells := range table {
		if i == 0 || blankRow(cells) {
			continue
		}
		rows = append(rows, model.QuotaImportRow{
			Row:         i + 1,
			CloudID:     cell(cells, 0),
			ProjectName: cell(cells, 1),
			CPUQuota:    cell(cells, 2),
			MemQuota:    cell(cells, 3),
		})
	}
	return s.BulkImport(ctx, rows)
}

// ExportSheet returns all records as rows of a quota sheet, header first.
// The output can be imported again unchanged.
// TemplateSheet is an example sheet that Import accepts.
func (s *QuotaService) TemplateSheet() [][]string {
	return [][]string{
		quotaSheetHeader,
		{"inst-example-1", "project-a", "10", "53687091200"},
		{"inst-example-2", "project-b", "20", "107374182400"},
	}
}

func (s *QuotaService) ExportSheet(ctx context.Context) ([][]string, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, quotaSheetHeader)
	for _, r := range records {
		rows = append(rows, []string{r.CloudID, r.ProjectName, r.CPUQuota.String(), r.MemQuota.String()})
	}
	return rows, nil
}

func toQuotaRecord(row model.QuotaImportRow) (model.QuotaRecord, error) {
	row.CloudID = strings.TrimSpace(row.CloudID)
	row.ProjectName = strings.TrimSpace(row.ProjectName)
	row.CPUQuota = strings.TrimSpace(row.CPUQuota)
	row.MemQuota = strings.TrimSpace(row.MemQuota)

	if err := validate.Struct(row); err != nil {
		return model.QuotaRecord{}, fmt.Errorf("row %d: %w: %v", row.Row, model.ErrInvalidRow, err)
	}

	cpu, err := decimal.NewFromString(row.CPUQuota)
	if err != nil {
		return model.QuotaRecord{}, fmt.Errorf("row %d: %w: cpu_quota %q: %v", row.Row, model.ErrInvalidRow, row.CPUQuota, err)
	}
	mem, err := decimal.NewFromString(row.MemQuota)
	if err != nil {
		return model.QuotaRecord{}, fmt.Errorf("row %d: %w: mem_quota %q: %v", row.Row, model.ErrInvalidRow, row.MemQuota, err)
	}
	if cpu.IsNegative() || mem.IsNegative() {
		return model.QuotaRecord{}, fmt.Errorf("row %d: %w: quotas must not be negative", row.Row, model.ErrInvalidRow)
	}

	return model.QuotaRecord{
		CloudID:     row.CloudID,
		ProjectName: row.ProjectName,
		CPUQuota:    cpu,
		MemQuota:    mem,
		Source:      model.QuotaSourceImport,
	}, nil
}

func cell(cells []string, i int) string {
	if i < len(cells) {
		return cells[i]
	}
	return ""
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
