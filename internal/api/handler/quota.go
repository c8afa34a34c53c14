package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/api/request"
	"github.com/edvin/quotausage/internal/api/response"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/tabular"
)

type Quota struct {
	svc      *core.QuotaService
	maxBytes int64
}

func NewQuota(svc *core.QuotaService, maxUploadBytes int64) *Quota {
	return &Quota{svc: svc, maxBytes: maxUploadBytes}
}

func (h *Quota) List(w http.ResponseWriter, r *http.Request) {
	quotas, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, quotas)
}

// ListByProject returns the records a project's usage is divided by, one per
// cloud id.
func (h *Quota) ListByProject(w http.ResponseWriter, r *http.Request) {
	project, err := request.RequireID(chi.URLParam(r, "project"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	quotas, err := h.svc.ListByProject(r.Context(), project)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, quotas)
}

func (h *Quota) Upsert(w http.ResponseWriter, r *http.Request) {
	var req request.UpsertQuota
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec := model.QuotaRecord{
		CloudID:     req.CloudID,
		ProjectName: req.ProjectName,
		CPUQuota:    req.CPUQuota,
		MemQuota:    req.MemQuota,
		Source:      model.QuotaSourceManual,
	}
	prior, err := h.svc.Upsert(r.Context(), rec)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	stored, err := h.svc.Get(r.Context(), rec.Key())
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	status := http.StatusOK
	if prior == nil {
		status = http.StatusCreated
	}
	response.WriteJSON(w, status, stored)
}

func (h *Quota) Delete(w http.ResponseWriter, r *http.Request) {
	cloudID, err := request.RequireID(chi.URLParam(r, "cloudID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, err := request.RequireID(chi.URLParam(r, "project"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), model.QuotaKey{CloudID: cloudID, ProjectName: project}); err != nil {
		response.WriteErr(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Import applies an uploaded xlsx or csv quota sheet.
func (h *Quota) Import(w http.ResponseWriter, r *http.Request) {
	f, err := request.FormFile(w, r, h.maxBytes)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer f.Close()

	res, err := h.svc.ImportFile(r.Context(), f.Name, f)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, res)
}

// Export downloads every quota record as a sheet that Import accepts.
func (h *Quota) Export(w http.ResponseWriter, r *http.Request) {
	format, err := tabular.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	rows, err := h.svc.ExportSheet(r.Context())
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="quotas`+format.Extension()+`"`)
	w.WriteHeader(http.StatusOK)
	if err := tabular.WriteRows(w, format, "quotas", rows); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write quota sheet")
	}
}
