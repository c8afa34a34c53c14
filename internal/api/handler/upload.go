package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/quotausage/internal/api/request"
	"github.com/edvin/quotausage/internal/api/response"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/metrics"
	"github.com/edvin/quotausage/internal/model"
)

type Upload struct {
	svc      *core.IngestService
	maxBytes int64
}

func NewUpload(svc *core.IngestService, maxUploadBytes int64) *Upload {
	return &Upload{svc: svc, maxBytes: maxUploadBytes}
}

// UploadBatch is the outcome of one upload request. Each file is ingested
// on its own and a failing file never stops the others.
type UploadBatch struct {
	Uploaded int                  `json:"uploaded"`
	Results  []*core.UploadResult `json:"results"`
	Failures []FileFailure        `json:"failures"`
}

// FileFailure is a file that was rejected as a whole.
type FileFailure struct {
	File  string `json:"file"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Create ingests every Day_report_YYYY-MM-DD file of the request. The status
// is 201 when at least one file was ingested, otherwise that of the first
// failure.
func (h *Upload) Create(w http.ResponseWriter, r *http.Request) {
	files, err := request.FormFiles(w, r, h.maxBytes)
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	batch := UploadBatch{Results: []*core.UploadResult{}, Failures: []FileFailure{}}
	var firstErr error
	for _, f := range files {
		res, err := h.svc.Upload(r.Context(), f.Name, f)
		f.Close()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			batch.Failures = append(batch.Failures, FileFailure{File: f.Name, Error: err.Error(), Code: model.CodeOf(err)})
			continue
		}
		metrics.ReportsWritten(model.SampleSourceUpload, len(res.Reports))
		batch.Results = append(batch.Results, res)
		batch.Uploaded++
	}

	status := http.StatusCreated
	if batch.Uploaded == 0 {
		status = response.StatusOf(firstErr)
	}
	response.WriteJSON(w, status, batch)
}

func (h *Upload) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.List(r.Context())
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, entries)
}

// Reprocess ingests an archived upload again.
func (h *Upload) Reprocess(w http.ResponseWriter, r *http.Request) {
	name, err := request.RequireID(chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.svc.Reprocess(r.Context(), name)
	if err != nil {
		response.WriteErr(w, err)
		return
	}
	metrics.ReportsWritten(model.SampleSourceUpload, len(res.Reports))

	response.WriteJSON(w, http.StatusOK, res)
}
