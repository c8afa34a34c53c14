package core

import (
	"context"
	"strings"
	"testing"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/archive"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/store"
)

func newIngestService(t *testing.T) (*IngestService, *store.Stores, *archive.FSStore) {
	stores := store.NewMemoryStores()
	uploads, err := archive.NewFSStore(afero.NewMemMapFs(), "/uploads")
	require.NoError(t, err)
	agg := NewAggregator(stores.Quotas, stores.Reports, stores.Samples, quartz.NewMock(t), zerolog.Nop())
	return NewIngestService(uploads, agg, zerolog.Nop()), stores, uploads
}

func TestIngestService_Upload(t *testing.T) {
	svc, stores, uploads := newIngestService(t)
	ctx := context.Background()
	seedQuota(t, stores.Quotas, "C1", "P", "10", "100")

	body := "P;ns1;1;10\nP;ns2;2;40\nP;ns3;x;1\n"
	res, err := svc.Upload(ctx, "Day_report_2024-01-01.txt", strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, day("2024-01-01"), res.Date)
	assert.Equal(t, 2, res.Samples)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, 3, res.Skipped[0].Line)
	require.Len(t, res.Reports, 1)
	assert.True(t, res.Reports[0].CPUPct.Equal(dec("30")))

	entries, err := uploads.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Day_report_2024-01-01.txt", entries[0].Name)
}

func TestIngestService_Upload_InvalidFilenameStoresNothing(t *testing.T) {
	svc, _, uploads := newIngestService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, "report.txt", strings.NewReader("P;ns;1;1\n"))
	require.ErrorIs(t, err, model.ErrInvalidFilename)

	entries, err := uploads.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIngestService_Reprocess(t *testing.T) {
	svc, stores, _ := newIngestService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, "Day_report_2024-01-01", strings.NewReader("P;ns1;5;50\n"))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "quota_not_found", res.Failures[0].Code)

	seedQuota(t, stores.Quotas, "C1", "P", "10", "100")
	res, err = svc.Reprocess(ctx, "Day_report_2024-01-01")
	require.NoError(t, err)
	assert.Empty(t, res.Failures)
	require.Len(t, res.Reports, 1)
	assert.True(t, res.Reports[0].MemPct.Equal(dec("50")))

	_, err = svc.Reprocess(ctx, "Day_report_2030-01-01")
	assert.ErrorIs(t, err, model.ErrUploadNotFound)
}
