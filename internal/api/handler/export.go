package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/edvin/quotausage/internal/api/request"
	"github.com/edvin/quotausage/internal/api/response"
	"github.com/edvin/quotausage/internal/core"
	"github.com/edvin/quotausage/internal/model"
	"github.com/edvin/quotausage/internal/tabular"
)

type Export struct {
	svc *core.ExportService
}

func NewExport(svc *core.ExportService) *Export {
	return &Export{svc: svc}
}

// Download writes the utilization export for a date range as a file.
// Rows that could not be exported are counted in X-Export-Skipped.
func (h *Export) Download(w http.ResponseWriter, r *http.Request) {
	from, to, err := request.DateRange(r)
	if err != nil {
		response.WriteErr(w, err)
		return
	}
	format, err := tabular.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		response.WriteErr(w, err)
		return
	}

	res, err := h.svc.Export(r.Context(), from, to)
	if err != nil {
		response.WriteErr(w, err)
		return
	}
	for _, f := range res.Failures {
		zerolog.Ctx(r.Context()).Warn().Str("key", f.Key).Str("code", f.Code).Msg("export row skipped")
	}

	filename := fmt.Sprintf("utilization_%s_%s%s", from.Format(model.DateLayout), to.Format(model.DateLayout), format.Extension())
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("X-Export-Skipped", strconv.Itoa(len(res.Failures)))
	w.WriteHeader(http.StatusOK)
	if err := h.svc.WriteTo(w, format, res.Rows); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to write export")
	}
}
