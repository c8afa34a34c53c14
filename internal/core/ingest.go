package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/archive"
	"github.com/edvin/quotausage/internal/dailyreport"
	"github.com/edvin/quotausage/internal/model"
)

// UploadResult summarizes the ingestion of one daily report.
type UploadResult struct {
	Filename string                       `json:"filename"`
	Date     time.Time                    `json:"date"`
	Samples  int                          `json:"samples"`
	Skipped  []dailyreport.LineDiagnostic `json:"skipped"`
	Reports  []model.UsageReport          `json:"reports"`
	Failures []model.ItemFailure          `json:"failures"`
}

// IngestService handles uploaded daily reports: it parses them, archives
// the raw file and aggregates the samples.
type IngestService struct {
	archive archive.Store
	agg     *Aggregator
	logger  zerolog.Logger
}

func NewIngestService(store archive.Store, agg *Aggregator, logger zerolog.Logger) *IngestService {
	return &IngestService{
		archive: store,
		agg:     agg,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Upload ingests a report. An invalid filename rejects the upload before
// anything is stored. Malformed lines are skipped and reported.
func (s *IngestService) Upload(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	name, err := archive.CleanName(filename)
	if err != nil {
		return nil, err
	}
	if _, err := dailyreport.ParseFilename(name); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %w", name, err)
	}
	parsed, err := dailyreport.Parse(name, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	if err := s.archive.Save(ctx, name, data); err != nil {
		return nil, fmt.Errorf("archive upload %s: %w", name, err)
	}

	return s.aggregate(ctx, name, parsed)
}

// Reprocess ingests an archived upload again.
func (s *IngestService) Reprocess(ctx context.Context, name string) (*UploadResult, error) {
	rc, err := s.archive.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	parsed, err := dailyreport.Parse(name, rc)
	if err != nil {
		return nil, err
	}
	return s.aggregate(ctx, name, parsed)
}

func (s *IngestService) List(ctx context.Context) ([]archive.Entry, error) {
	return s.archive.List(ctx)
}

func (s *IngestService) aggregate(ctx context.Context, name string, parsed *dailyreport.Result) (*UploadResult, error) {
	agg, err := s.agg.Apply(ctx, parsed.Date, parsed.Samples)
	if err != nil {
		return nil, fmt.Errorf("aggregate upload %s: %w", name, err)
	}

	s.logger.Info().
		Str("file", name).
		Time("date", parsed.Date).
		Int("samples", len(parsed.Samples)).
		Int("skipped", len(parsed.Skipped)).
		Int("reports", len(agg.Reports)).
		Int("failures", len(agg.Failures)).
		Msg("ingested daily report")

	return &UploadResult{
		Filename: name,
		Date:     parsed.Date,
		Samples:  len(parsed.Samples),
		Skipped:  parsed.Skipped,
		Reports:  agg.Reports,
		Failures: agg.Failures,
	}, nil
}
