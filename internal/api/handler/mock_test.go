package handler

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/archive"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/store"
)

// mockSyncRunner implements SyncRunner for handler tests.
type mockSyncRunner struct {
	mock.Mock
}

func (m *mockSyncRunner) Run(ctx context.Context, date time.Time, trigger string) (*model.SyncRun, error) {
	args := m.Called(ctx, date, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncRun), args.Error(1)
}

func (m *mockSyncRunner) Status(ctx context.Context) (model.SyncStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(model.SyncStatus), args.Error(1)
}

// newTestServices wires services over in-memory stores and archive.
func newTestServices(t *testing.T) (*core.Services, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	uploads, err := archive.NewFSStore(afero.NewMemMapFs(), "uploads")
	require.NoError(t, err)
	clock := quartz.NewMock(t)
	clock.Set(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC))
	return core.NewServices(stores, uploads, clock, zerolog.Nop()), stores
}

func seedQuota(t *testing.T, s store.QuotaStore, cloudID, project, cpu, mem string) {
	t.Helper()
	_, err := s.Upsert(context.Background(), model.QuotaRecord{
		CloudID:     cloudID,
		ProjectName: project,
		CPUQuota:    decimal.RequireFromString(cpu),
		MemQuota:    decimal.RequireFromString(mem),
		Source:      model.QuotaSourceManual,
	})
	require.NoError(t, err)
}
