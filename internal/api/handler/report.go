package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/quotausage/internal/api/request"
	"github.com/edvin/quotausage/internal/api/response"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/model"
)

type Report struct {
	svc *core.ReportService
	agg *core.Aggregator
}

func NewReport(svc *core.ReportService, agg *core.Aggregator) *Report {
	return &Report{svc: svc, agg: agg}
}

func (h *Report) Query(w http.ResponseWriter, r *http.Request) {
	from, to, err := request.DateRange(r)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	reports, err := h.svc.Query(r.Context(), from, to)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, reports)
}

func (h *Report) Dates(w http.ResponseWriter, r *http.Request) {
	dates, err := h.svc.ListDates(r.Context())
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(model.DateLayout)
	}
	response.WriteJSON(w, http.StatusOK, out)
}

func (h *Report) Get(w http.ResponseWriter, r *http.Request) {
	project, err := request.RequireID(chi.URLParam(r, "project"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	date, err := model.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := h.svc.Get(r.Context(), project, date)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, report)
}

// Recompute rebuilds the reports of a date from its staged samples.
func (h *Report) Recompute(w http.ResponseWriter, r *http.Request) {
	date, err := model.ParseDay(chi.URLParam(r, "date"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.agg.RecomputeDate(r.Context(), date)
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, res)
}
