// Package store holds the quota, report, sample and run stores.
//
// Each store has an in-memory implementation, used when no database is
// configured and in tests, and a Postgres implementation.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/quotausage/internal/model"
)

// DB is the subset of pgxpool.Pool the Postgres stores use.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuotaStore holds quota records keyed by (cloud_id, project_name).
type QuotaStore interface {
	// Upsert inserts or replaces the record by key and returns the prior
	// value, or nil if the key was new. CreatedAt of an existing key is kept.
	Upsert(ctx context.Context, rec model.QuotaRecord) (*model.QuotaRecord, error)
	// Delete returns model.ErrQuotaRecordNotFound if the key is absent.
	Delete(ctx context.Context, key model.QuotaKey) error
	Get(ctx context.Context, key model.QuotaKey) (*model.QuotaRecord, error)
	ListByProject(ctx context.Context, projectName string) ([]model.QuotaRecord, error)
	// List returns all records in insertion order.
	List(ctx context.Context) ([]model.QuotaRecord, error)
}

// ReportStore holds one utilization report per (project_name, date).
type ReportStore interface {
	Upsert(ctx context.Context, report model.UsageReport) error
	Get(ctx context.Context, projectName string, date time.Time) (*model.UsageReport, error)
	// Query returns reports with date in [from, to], ordered by date then project.
	Query(ctx context.Context, from, to time.Time) ([]model.UsageReport, error)
	// ListDates returns the distinct report dates, newest first.
	ListDates(ctx context.Context) ([]time.Time, error)
}

// SampleStore stages namespace samples per (project, namespace, date) until
// they are aggregated. A later Put for the same key replaces the sample.
type SampleStore interface {
	Put(ctx context.Context, samples []model.NamespaceUsageSample) error
	ForDate(ctx context.Context, date time.Time) ([]model.NamespaceUsageSample, error)
	// Prune drops samples older than before.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// RunStore persists orchestrator run records.
type RunStore interface {
	Save(ctx context.Context, run model.SyncRun) error
	Latest(ctx context.Context, limit int) ([]model.SyncRun, error)
}

// Stores bundles the stores a deployment uses.
type Stores struct {
	Quotas  QuotaStore
	Reports ReportStore
	Samples SampleStore
	Runs    RunStore
}

// NewMemoryStores returns empty in-memory stores.
func NewMemoryStores() *Stores {
	return &Stores{
		Quotas:  NewMemoryQuotaStore(),
		Reports: NewMemoryReportStore(),
		Samples: NewMemorySampleStore(),
		Runs:    NewMemoryRunStore(100),
	}
}

// NewPostgresStores returns stores backed by db.
func NewPostgresStores(db DB) *Stores {
	return &Stores{
		Quotas:  NewPostgresQuotaStore(db),
		Reports: NewPostgresReportStore(db),
		Samples: NewPostgresSampleStore(db),
		Runs:    NewPostgresRunStore(db),
	}
}
