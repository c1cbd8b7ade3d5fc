package handlers

import (
	"errors"
	"net/http"

	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/identity"
	"github.com/diewo77/clinic-invoices/internal/models"
)

type AuthHandler struct {
	identity *identity.Service
}

func NewAuthHandler(svc *identity.Service) *AuthHandler {
	return &AuthHandler{identity: svc}
}

// Signup registers a client operator.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username       string `json:"username"`
		Password       string `json:"password"`
		RepeatPassword string `json:"repeat_password"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Username == "" || in.Password == "" {
		badRequest(w, "username_and_password_required")
		return
	}
	if in.Password != in.RepeatPassword {
		badRequest(w, "passwords_do_not_match")
		return
	}
	op, err := h.identity.Register(r.Context(), in.Username, in.Password, models.RoleClient)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, op)
}

// Signin exchanges credentials for a token.
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	token, err := h.identity.Login(r.Context(), in.Username, in.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		httpx.JSONError(w, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"token": token})
}

// CheckToken reports whether the request carried a valid token.
func (h *AuthHandler) CheckToken(w http.ResponseWriter, r *http.Request) {
	op, ok := identity.OperatorFromContext(r.Context())
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "invalid", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"message":  "success",
		"username": op.Username,
		"role":     op.Role,
	})
}
