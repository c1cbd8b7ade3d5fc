package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/services"
)

type ReportHandler struct {
	invoices *services.InvoiceService
}

func NewReportHandler(invoices *services.InvoiceService) *ReportHandler {
	return &ReportHandler{invoices: invoices}
}

// Consumption handles GET /reports/consumption?from=&to=&include_void=.
// The to bound covers the whole day when given as a date.
func (h *ReportHandler) Consumption(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("from"))
	if err != nil {
		badRequest(w, "invalid_from")
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		badRequest(w, "invalid_to")
		return
	}
	if len(q.Get("to")) == len(dateLayout) {
		to = to.AddDate(0, 0, 1).Add(-1)
	}
	includeVoid := false
	if v := q.Get("include_void"); v != "" {
		if includeVoid, err = strconv.ParseBool(v); err != nil {
			badRequest(w, "invalid_include_void")
			return
		}
	}
	report, err := h.invoices.ConsumptionReport(r.Context(), services.ReportFilter{
		From:        from,
		To:          to,
		IncludeVoid: includeVoid,
	})
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"from":      q.Get("from"),
		"to":        q.Get("to"),
		"invoices":  report.Invoices,
		"materials": report.Materials.Sorted(),
	})
}
