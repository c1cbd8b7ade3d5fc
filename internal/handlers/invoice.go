package handlers

import (
	"context"
	"net/http"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/diewo77/clinic-invoices/internal/services"
)

type InvoiceHandler struct {
	invoices *services.InvoiceService
	returns  *services.ReturnService
}

func NewInvoiceHandler(invoices *services.InvoiceService, returns *services.ReturnService) *InvoiceHandler {
	return &InvoiceHandler{invoices: invoices, returns: returns}
}

// List handles GET /invoices?customer=&status=&limit=&offset=.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.InvoiceFilter{
		CustomerName: q.Get("customer"),
		Status:       models.InvoiceStatus(q.Get("status")),
		Limit:        queryInt(r, "limit", 0),
		Offset:       queryInt(r, "offset", 0),
	}
	list, total, err := h.invoices.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": list, "total": total, "limit": f.Limit, "offset": f.Offset})
}

func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Customer  string `json:"customer"`
		Patient   string `json:"patient"`
		IssueDate string `json:"issue_date"`
		DueDate   string `json:"due_date"`
	}
	if !decode(w, r, &in) {
		return
	}
	issue, err := parseDate(in.IssueDate)
	if err != nil {
		badRequest(w, "invalid_issue_date")
		return
	}
	due, err := parseDate(in.DueDate)
	if err != nil {
		badRequest(w, "invalid_due_date")
		return
	}
	inv, err := h.invoices.Create(r.Context(), in.Customer, in.Patient, issue, due)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	inv, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// AddItem handles POST /invoices/{id}/items.
func (h *InvoiceHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var in struct {
		Product  string `json:"product"`
		Quantity int64  `json:"quantity"`
	}
	if !decode(w, r, &in) {
		return
	}
	item, err := h.invoices.AddItem(r.Context(), id, in.Product, in.Quantity)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

// RemoveItem handles DELETE /invoices/{id}/items/{item}.
func (h *InvoiceHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	itemID, err := pathID(r, "item")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := h.invoices.RemoveItem(r.Context(), id, itemID); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *InvoiceHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.Finalize)
}

func (h *InvoiceHandler) Modify(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.Modify)
}

func (h *InvoiceHandler) Void(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.invoices.Void)
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uint) (*models.Invoice, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	inv, err := fn(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

// BillOfMaterials handles GET /invoices/{id}/bom.
func (h *InvoiceHandler) BillOfMaterials(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	bom, err := h.invoices.ResolvedBillOfMaterials(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice_id": id, "materials": bom.Sorted()})
}

// Total handles GET /invoices/{id}/total?tier=normal|reduced.
func (h *InvoiceHandler) Total(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	tier, err := models.ParseRateTier(r.URL.Query().Get("tier"))
	if err != nil {
		badRequest(w, "invalid_tier")
		return
	}
	total, err := h.invoices.Total(r.Context(), id, tier)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoice_id": id, "tier": tier, "total": total})
}

func (h *InvoiceHandler) Revisions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	revs, err := h.invoices.Revisions(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, revs)
}

// Revision handles GET /invoices/{id}/revisions/{rev}.
func (h *InvoiceHandler) Revision(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rev, err := pathID(r, "rev")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	snapshot, err := h.invoices.BilledAt(r.Context(), id, int(rev))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snapshot)
}

func (h *InvoiceHandler) Returns(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	list, err := h.returns.ListReturns(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

// RecordReturn handles POST /invoices/{id}/returns.
func (h *InvoiceHandler) RecordReturn(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var in struct {
		Description     string `json:"description"`
		WarrantyCovered bool   `json:"warranty_covered"`
	}
	if !decode(w, r, &in) {
		return
	}
	ret, err := h.returns.RecordReturn(r.Context(), id, in.Description, in.WarrantyCovered)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}
