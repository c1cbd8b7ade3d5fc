package handlers

import (
	"net/http"
	"strconv"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/services"
	"github.com/shopspring/decimal"
)

type ProductHandler struct {
	catalog     *services.CatalogService
	composition *services.CompositionService
}

func NewProductHandler(catalog *services.CatalogService, composition *services.CompositionService) *ProductHandler {
	return &ProductHandler{catalog: catalog, composition: composition}
}

// List handles GET /products?q=&limit=.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string           `json:"name"`
		NormalRate  decimal.Decimal  `json:"normal_rate"`
		ReducedRate *decimal.Decimal `json:"reduced_rate"`
		Description string           `json:"description"`
	}
	if !decode(w, r, &in) {
		return
	}
	p, err := h.catalog.Register(r.Context(), in.Name, in.NormalRate, in.Description, in.ReducedRate)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.writeProduct(w, r, r.PathValue("name"))
}

func (h *ProductHandler) writeProduct(w http.ResponseWriter, r *http.Request, name string) {
	p, err := h.catalog.Find(r.Context(), name)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// Update applies the fields present in the body. Rates and description are
// changed before a rename.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name             *string          `json:"name"`
		NormalRate       *decimal.Decimal `json:"normal_rate"`
		ReducedRate      *decimal.Decimal `json:"reduced_rate"`
		ClearReducedRate bool             `json:"clear_reduced_rate"`
		Description      *string          `json:"description"`
	}
	if !decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	name := r.PathValue("name")

	var err error
	if in.NormalRate != nil {
		err = h.catalog.SetNormalRate(ctx, name, *in.NormalRate)
	}
	if err == nil && (in.ReducedRate != nil || in.ClearReducedRate) {
		err = h.catalog.SetReducedRate(ctx, name, in.ReducedRate)
	}
	if err == nil && in.Description != nil {
		err = h.catalog.SetDescription(ctx, name, *in.Description)
	}
	if err == nil && in.Name != nil {
		if err = h.catalog.Rename(ctx, name, *in.Name); err == nil {
			name = *in.Name
		}
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.writeProduct(w, r, name)
}

func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Remove(r.Context(), r.PathValue("name")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Components handles GET /products/{name}/components.
func (h *ProductHandler) Components(w http.ResponseWriter, r *http.Request) {
	h.writeComponents(w, r, http.StatusOK)
}

func (h *ProductHandler) writeComponents(w http.ResponseWriter, r *http.Request, status int) {
	list, err := h.composition.ComponentsOf(r.Context(), r.PathValue("name"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, status, list)
}

// UsedIn handles GET /products/{name}/used-in.
func (h *ProductHandler) UsedIn(w http.ResponseWriter, r *http.Request) {
	list, err := h.composition.UsedIn(r.Context(), r.PathValue("name"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *ProductHandler) AddComponent(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Component    string `json:"component"`
		Multiplicity int64  `json:"multiplicity"`
	}
	if !decode(w, r, &in) {
		return
	}
	if err := h.composition.DefineAggregate(r.Context(), r.PathValue("name"), in.Component, in.Multiplicity); err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.writeComponents(w, r, http.StatusCreated)
}

// SetMultiplicity handles PUT /products/{name}/components/{component}.
func (h *ProductHandler) SetMultiplicity(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Multiplicity int64 `json:"multiplicity"`
	}
	if !decode(w, r, &in) {
		return
	}
	err := h.composition.SetMultiplicity(r.Context(), r.PathValue("name"), r.PathValue("component"), in.Multiplicity)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.Components(w, r)
}

func (h *ProductHandler) RemoveComponent(w http.ResponseWriter, r *http.Request) {
	if err := h.composition.RemoveAggregate(r.Context(), r.PathValue("name"), r.PathValue("component")); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Flatten handles GET /products/{name}/flatten?count=.
func (h *ProductHandler) Flatten(w http.ResponseWriter, r *http.Request) {
	count := int64(1)
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(w, "invalid_count")
			return
		}
		count = n
	}
	name := r.PathValue("name")
	bom, err := h.composition.Flatten(r.Context(), name, count)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"product":   name,
		"count":     count,
		"materials": bom.Sorted(),
	})
}
