package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/syncer"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, date time.Time, trigger string) (*model.SyncRun, error) {
	args := m.Called(ctx, date, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncRun), args.Error(1)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("every day at three", time.UTC, &mockRunner{}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse sync schedule")
}

func TestNext_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	s, err := New("0 3 * * *", loc, &mockRunner{}, zerolog.Nop())
	require.NoError(t, err)

	// 2024-01-01 20:00 UTC is 04:00 on Jan 2 in UTC+8, so the next 03:00
	// local is Jan 3 03:00 local, Jan 2 19:00 UTC.
	next := s.Next(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC))
	assert.True(t, next.Equal(time.Date(2024, 1, 2, 19, 0, 0, 0, time.UTC)), "next %s", next)
}

func TestTick_RunsCronTriggerForDefaultDate(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, time.Time{}, syncer.TriggerCron).
		Return(&model.SyncRun{ID: "run-1", State: model.RunStateDone, ReportsWritten: 2}, nil).Once()

	var buf bytes.Buffer
	s, err := New("0 3 * * *", time.UTC, runner, zerolog.New(&buf))
	require.NoError(t, err)

	s.tick()
	runner.AssertExpectations(t)
	assert.Contains(t, buf.String(), "scheduled sync finished")
}

func TestTick_RunInProgressIsSkipped(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, time.Time{}, syncer.TriggerCron).
		Return(nil, fmt.Errorf("start sync run: %w", model.ErrRunInProgress)).Once()

	var buf bytes.Buffer
	s, err := New("0 3 * * *", time.UTC, runner, zerolog.New(&buf))
	require.NoError(t, err)

	s.tick()
	assert.Contains(t, buf.String(), "run in progress")
}

func TestTick_StartError(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", mock.Anything, time.Time{}, syncer.TriggerCron).
		Return(nil, errors.New("redis down")).Once()

	var buf bytes.Buffer
	s, err := New("0 3 * * *", time.UTC, runner, zerolog.New(&buf))
	require.NoError(t, err)

	s.tick()
	assert.Contains(t, buf.String(), "failed to start")
	assert.Contains(t, buf.String(), "redis down")
}

func TestStop_CancelsRunContext(t *testing.T) {
	runner := &mockRunner{}
	s, err := New("0 3 * * *", time.UTC, runner, zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	assert.Error(t, s.ctx.Err())
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}
