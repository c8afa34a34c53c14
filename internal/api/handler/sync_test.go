package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/syncer"
)

func TestSyncTrigger_DefaultDate(t *testing.T) {
	runner := &mockSyncRunner{}
	run := &model.SyncRun{ID: "run-1", State: model.RunStateDone}
	runner.On("Run", mock.Anything, time.Time{}, syncer.TriggerManual).Return(run, nil)
	h := NewSync(runner)
	rec := httptest.NewRecorder()

	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.SyncRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.ID)
	runner.AssertExpectations(t)
}

func TestSyncTrigger_WithDate(t *testing.T) {
	runner := &mockSyncRunner{}
	date := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	runner.On("Run", mock.Anything, date, syncer.TriggerManual).Return(&model.SyncRun{ID: "run-2"}, nil)
	h := NewSync(runner)
	rec := httptest.NewRecorder()

	h.Trigger(rec, newRequest(http.MethodPost, "/sync", map[string]string{"date": "2024-01-02"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	runner.AssertExpectations(t)
}

func TestSyncTrigger_InvalidDate(t *testing.T) {
	runner := &mockSyncRunner{}
	h := NewSync(runner)
	rec := httptest.NewRecorder()

	h.Trigger(rec, newRequest(http.MethodPost, "/sync", map[string]string{"date": "Jan 2"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	runner.AssertNotCalled(t, "Run")
}

func TestSyncTrigger_Conflict(t *testing.T) {
	runner := &mockSyncRunner{}
	runner.On("Run", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("start sync run: %w", model.ErrRunInProgress))
	h := NewSync(runner)
	rec := httptest.NewRecorder()

	h.Trigger(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "run_in_progress", decodeErrorResponse(rec)["code"])
}

func TestSyncStatus(t *testing.T) {
	runner := &mockSyncRunner{}
	runner.On("Status", mock.Anything).Return(model.SyncStatus{
		State:   model.RunStateUsageSyncing,
		Current: &model.SyncRun{ID: "run-3", State: model.RunStateUsageSyncing},
	}, nil)
	h := NewSync(runner)
	rec := httptest.NewRecorder()

	h.Status(rec, httptest.NewRequest(http.MethodGet, "/sync/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got model.SyncStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.RunStateUsageSyncing, got.State)
	require.NotNil(t, got.Current)
	assert.Equal(t, "run-3", got.Current.ID)
}
