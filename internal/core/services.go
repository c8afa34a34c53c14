package core

import (
	"github.com/coder/quartz"
	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/archive"
	"github.com/edvin/quotausage/internal/store"
)

type Services struct {
	Quota      *QuotaService
	Report     *ReportService
	Aggregator *Aggregator
	Export     *ExportService
	Ingest     *IngestService
}

func NewServices(stores *store.Stores, uploads archive.Store, clock quartz.Clock, logger zerolog.Logger) *Services {
	agg := NewAggregator(stores.Quotas, stores.Reports, stores.Samples, clock, logger)
	return &Services{
		Quota:      NewQuotaService(stores.Quotas, clock),
		Report:     NewReportService(stores.Reports),
		Aggregator: agg,
		Export:     NewExportService(stores.Reports, stores.Quotas),
		Ingest:     NewIngestService(uploads, agg, logger),
	}
}
