package handlers

import (
	"net/http"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/services"
)

type CustomerHandler struct {
	clinic *services.ClinicService
}

func NewCustomerHandler(clinic *services.ClinicService) *CustomerHandler {
	return &CustomerHandler{clinic: clinic}
}

// List handles GET /customers?q=&limit=.
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.clinic.SearchCustomers(r.Context(), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *CustomerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    string `json:"name"`
		Address string `json:"address"`
		Phone   string `json:"phone"`
		Email   string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	c, err := h.clinic.AddCustomer(r.Context(), in.Name, in.Address, in.Phone, in.Email)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.clinic.GetCustomer(r.Context(), r.PathValue("name"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

// Update changes the contact fields present in the body.
func (h *CustomerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address *string `json:"address"`
		Phone   *string `json:"phone"`
		Email   *string `json:"email"`
	}
	if !decode(w, r, &in) {
		return
	}
	ctx := r.Context()
	name := r.PathValue("name")

	var err error
	if in.Address != nil {
		err = h.clinic.UpdateCustomerAddress(ctx, name, *in.Address)
	}
	if err == nil && in.Phone != nil {
		err = h.clinic.UpdateCustomerPhone(ctx, name, *in.Phone)
	}
	if err == nil && in.Email != nil {
		err = h.clinic.UpdateCustomerEmail(ctx, name, *in.Email)
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	h.Get(w, r)
}

// Patients handles GET /customers/{name}/patients?q=&limit=.
func (h *CustomerHandler) Patients(w http.ResponseWriter, r *http.Request) {
	list, err := h.clinic.SearchPatients(r.Context(), r.PathValue("name"), r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, list)
}

func (h *CustomerHandler) AddPatient(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &in) {
		return
	}
	p, err := h.clinic.AddPatient(r.Context(), r.PathValue("name"), in.Name)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}
