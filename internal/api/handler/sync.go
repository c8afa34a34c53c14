package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/edvin/quotausage/internal/api/request"
	"github.com/edvin/quotausage/internal/api/response"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/syncer"
)

// SyncRunner starts and reports on orchestrated sync runs.
type SyncRunner interface {
	Run(ctx context.Context, date time.Time, trigger string) (*model.SyncRun, error)
	Status(ctx context.Context) (model.SyncStatus, error)
}

type Sync struct {
	runner SyncRunner
}

func NewSync(runner SyncRunner) *Sync {
	return &Sync{runner: runner}
}

// Trigger runs a sync synchronously and returns the run record. A run
// already in progress is rejected with 409.
func (h *Sync) Trigger(w http.ResponseWriter, r *http.Request) {
	var req request.TriggerSync
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var date time.Time
	if req.Date != "" {
		d, err := model.ParseDay(req.Date)
		if err != nil {
			response.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		date = d
	}

	run, err := h.runner.Run(r.Context(), date, syncer.TriggerManual)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, run)
}

func (h *Sync) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.runner.Status(r.Context())
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, status)
}
