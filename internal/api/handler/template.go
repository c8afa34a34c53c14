package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/api/response"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/dailyreport"
	"github.com/edvin/quotausage/internal/tabular"
)

// Template serves example files for the upload and import endpoints.
type Template struct {
	quotas *core.QuotaService
}

func NewTemplate(quotas *core.QuotaService) *Template {
	return &Template{quotas: quotas}
}

func (h *Template) Report(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+dailyreport.TemplateFilename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(dailyreport.Template())
}

// Quota serves an example quota sheet, xlsx unless format says otherwise.
func (h *Template) Quota(w http.ResponseWriter, r *http.Request) {
	format, err := tabular.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="quota_template`+format.Extension()+`"`)
	w.WriteHeader(http.StatusOK)
	if err := tabular.WriteRows(w, format, "quotas", h.quotas.TemplateSheet()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write quota template")
	}
}
