package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/quotausage/internal/model"
)

const quotaColumns = `cloud_id, project_name, cpu_quota, mem_quota, source, created_at, updated_at`

// PostgresQuotaStore is a QuotaStore on the quota_records table.
type PostgresQuotaStore struct {
	db DB
}

func NewPostgresQuotaStore(db DB) *PostgresQuotaStore {
	return &PostgresQuotaStore{db: db}
}

// Upsert reads the prior row and writes the new one in a single statement.
// The data-modifying CTE runs even though only the prior row is selected.
func (s *PostgresQuotaStore) Upsert(ctx context.Context, rec model.QuotaRecord) (*model.QuotaRecord, error) {
	rows, err := s.db.Query(ctx,
		`WITH prior AS (
			SELECT `+quotaColumns+` FROM quota_records WHERE cloud_id = $1 AND project_name = $2
		), upserted AS (
			INSERT INTO quota_records (`+quotaColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (cloud_id, project_name) DO UPDATE
			SET cpu_quota = EXCLUDED.cpu_quota, mem_quota = EXCLUDED.mem_quota,
			    source = EXCLUDED.source, updated_at = EXCLUDED.updated_at
			RETURNING 1
		)
		SELECT `+quotaColumns+` FROM prior`,
		rec.CloudID, rec.ProjectName, rec.CPUQuota, rec.MemQuota, rec.Source, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert quota %s: %w", rec.Key(), err)
	}
	defer rows.Close()

	var prior *model.QuotaRecord
	for rows.Next() {
		var p model.QuotaRecord
		if err := scanQuota(rows, &p); err != nil {
			return nil, fmt.Errorf("scan prior quota %s: %w", rec.Key(), err)
		}
		prior = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("upsert quota %s: %w", rec.Key(), err)
	}
	return prior, nil
}

func (s *PostgresQuotaStore) Delete(ctx context.Context, key model.QuotaKey) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM quota_records WHERE cloud_id = $1 AND project_name = $2`,
		key.CloudID, key.ProjectName,
	)
	if err != nil {
		return fmt.Errorf("delete quota %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete quota %s: %w", key, model.ErrQuotaRecordNotFound)
	}
	return nil
}

func (s *PostgresQuotaStore) Get(ctx context.Context, key model.QuotaKey) (*model.QuotaRecord, error) {
	var q model.QuotaRecord
	err := scanQuota(s.db.QueryRow(ctx,
		`SELECT `+quotaColumns+` FROM quota_records WHERE cloud_id = $1 AND project_name = $2`,
		key.CloudID, key.ProjectName,
	), &q)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get quota %s: %w", key, model.ErrQuotaRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get quota %s: %w", key, err)
	}
	return &q, nil
}

func (s *PostgresQuotaStore) ListByProject(ctx context.Context, projectName string) ([]model.QuotaRecord, error) {
	return s.list(ctx,
		`SELECT `+quotaColumns+` FROM quota_records WHERE project_name = $1 ORDER BY seq`, projectName)
}

func (s *PostgresQuotaStore) List(ctx context.Context) ([]model.QuotaRecord, error) {
	return s.list(ctx, `SELECT `+quotaColumns+` FROM quota_records ORDER BY seq`)
}

func (s *PostgresQuotaStore) list(ctx context.Context, query string, args ...any) ([]model.QuotaRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quotas: %w", err)
	}
	defer rows.Close()

	var records []model.QuotaRecord
	for rows.Next() {
		var q model.QuotaRecord
		if err := scanQuota(rows, &q); err != nil {
			return nil, fmt.Errorf("scan quota: %w", err)
		}
		records = append(records, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotas: %w", err)
	}
	return records, nil
}

func scanQuota(row pgx.Row, q *model.QuotaRecord) error {
	return row.Scan(&q.CloudID, &q.ProjectName, &q.CPUQuota, &q.MemQuota, &q.Source, &q.CreatedAt, &q.UpdatedAt)
}

const reportColumns = `project_name, report_date, cpu_pct, mem_pct, cpu_used, mem_used, updated_at`

// PostgresReportStore is a ReportStore on the usage_reports table.
type PostgresReportStore struct {
	db DB
}

func NewPostgresReportStore(db DB) *PostgresReportStore {
	return &PostgresReportStore{db: db}
}

func (s *PostgresReportStore) Upsert(ctx context.Context, r model.UsageReport) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO usage_reports (`+reportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (project_name, report_date) DO UPDATE
		 SET cpu_pct = EXCLUDED.cpu_pct, mem_pct = EXCLUDED.mem_pct,
		     cpu_used = EXCLUDED.cpu_used, mem_used = EXCLUDED.mem_used,
		     updated_at = EXCLUDED.updated_at`,
		r.ProjectName, model.Day(r.Date), r.CPUPct, r.MemPct, r.CPUUsed, r.MemUsed, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert report %s %s: %w", r.ProjectName, r.Date.Format(model.DateLayout), err)
	}
	return nil
}

func (s *PostgresReportStore) Get(ctx context.Context, projectName string, date time.Time) (*model.UsageReport, error) {
	var r model.UsageReport
	err := scanReport(s.db.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM usage_reports WHERE project_name = $1 AND report_date = $2`,
		projectName, model.Day(date),
	), &r)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s %s: %w", projectName, date.Format(model.DateLayout), err)
	}
	return &r, nil
}

func (s *PostgresReportStore) Query(ctx context.Context, from, to time.Time) ([]model.UsageReport, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+reportColumns+` FROM usage_reports
		 WHERE report_date BETWEEN $1 AND $2
		 ORDER BY report_date, project_name`,
		model.Day(from), model.Day(to),
	)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	reports := []model.UsageReport{}
	for rows.Next() {
		var r model.UsageReport
		if err := scanReport(rows, &r); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return reports, nil
}

func (s *PostgresReportStore) ListDates(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT report_date FROM usage_reports ORDER BY report_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("list report dates: %w", err)
	}
	defer rows.Close()

	dates := []time.Time{}
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan report date: %w", err)
		}
		dates = append(dates, model.Day(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report dates: %w", err)
	}
	return dates, nil
}

func scanReport(row pgx.Row, r *model.UsageReport) error {
	if err := row.Scan(&r.ProjectName, &r.Date, &r.CPUPct, &r.MemPct, &r.CPUUsed, &r.MemUsed, &r.UpdatedAt); err != nil {
		return err
	}
	r.Date = model.Day(r.Date)
	return nil
}

// PostgresSampleStore is a SampleStore on the usage_samples staging table.
type PostgresSampleStore struct {
	db DB
}

func NewPostgresSampleStore(db DB) *PostgresSampleStore {
	return &PostgresSampleStore{db: db}
}

func (s *PostgresSampleStore) Put(ctx context.Context, samples []model.NamespaceUsageSample) error {
	for _, sample := range samples {
		_, err := s.db.Exec(ctx,
			`INSERT INTO usage_samples (project_name, namespace, sample_date, cpu_used, mem_used, source, ingested_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())
			 ON CONFLICT (project_name, namespace, sample_date) DO UPDATE
			 SET cpu_used = EXCLUDED.cpu_used, mem_used = EXCLUDED.mem_used,
			     source = EXCLUDED.source, ingested_at = EXCLUDED.ingested_at`,
			sample.ProjectName, sample.Namespace, model.Day(sample.Date), sample.CPUUsed, sample.MemUsed, sample.Source,
		)
		if err != nil {
			return fmt.Errorf("stage sample %s/%s: %w", sample.ProjectName, sample.Namespace, err)
		}
	}
	return nil
}

func (s *PostgresSampleStore) ForDate(ctx context.Context, date time.Time) ([]model.NamespaceUsageSample, error) {
	rows, err := s.db.Query(ctx,
		`SELECT project_name, namespace, sample_date, cpu_used, mem_used, source
		 FROM usage_samples WHERE sample_date = $1
		 ORDER BY project_name, namespace`,
		model.Day(date),
	)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples := []model.NamespaceUsageSample{}
	for rows.Next() {
		var smp model.NamespaceUsageSample
		if err := rows.Scan(&smp.ProjectName, &smp.Namespace, &smp.Date, &smp.CPUUsed, &smp.MemUsed, &smp.Source); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		smp.Date = model.Day(smp.Date)
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}

func (s *PostgresSampleStore) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM usage_samples WHERE sample_date < $1`, model.Day(before))
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PostgresRunStore is a RunStore on the sync_runs table. The full run is
// kept as JSON next to the indexed columns.
type PostgresRunStore struct {
	db DB
}

func NewPostgresRunStore(db DB) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

func (s *PostgresRunStore) Save(ctx context.Context, run model.SyncRun) error {
	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO sync_runs (id, run_date, trigger, state, started_at, finished_at, record)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE
		 SET state = EXCLUDED.state, finished_at = EXCLUDED.finished_at, record = EXCLUDED.record`,
		run.ID, model.Day(run.Date), run.Trigger, string(run.State), run.StartedAt, run.FinishedAt, record,
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *PostgresRunStore) Latest(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `SELECT record FROM sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []model.SyncRun{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var run model.SyncRun
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
