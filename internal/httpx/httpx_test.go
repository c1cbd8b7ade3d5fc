package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/clinic-invoices/internal/services"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]int{"id": 7})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":7}`, rec.Body.String())

	rec = httptest.NewRecorder()
	JSON(rec, http.StatusOK, nil)
	assert.Equal(t, "null", rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"gauze"}`))
	require.NoError(t, DecodeJSON(r, &dst))
	assert.Equal(t, "gauze", dst.Name)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"nme":"gauze"}`))
	assert.Error(t, DecodeJSON(r, &dst), "unknown fields are rejected")

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, DecodeJSON(r, &dst))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: product %q", services.ErrNotFound, "X"), http.StatusNotFound},
		{services.ErrEdgeNotFound, http.StatusNotFound},
		{services.ErrDuplicate, http.StatusConflict},
		{services.ErrDuplicateEdge, http.StatusConflict},
		{services.ErrSelfReference, http.StatusUnprocessableEntity},
		{services.ErrCycle, http.StatusUnprocessableEntity},
		{&services.ValidationError{Field: "quantity", Message: "must be >= 1"}, http.StatusUnprocessableEntity},
		{services.ErrInvalidState, http.StatusConflict},
		{services.ErrProductInUse, http.StatusConflict},
		{&services.TransitionError{From: "void", To: "finalized"}, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, &services.ValidationError{Field: "quantity", Message: "must be >= 1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid quantity: must be >= 1", body.Error)
	assert.Equal(t, map[string]any{"quantity": "must be >= 1"}, body.Details)

	rec = httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, zerolog.Nop())
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) int {
		r := httptest.NewRequest(http.MethodGet, "/products", nil)
		r.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1000"))
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:1001"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:1002"), "same host shares a bucket")
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:1000"))
}

func TestRateLimiterCleanup(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 1, zerolog.Nop())
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")
	now = now.Add(time.Hour)
	rl.getLimiter("b")

	rl.Cleanup(time.Minute)
	assert.Len(t, rl.limiters, 1)
	assert.Contains(t, rl.limiters, "b")
}
