package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diewo77/clinic-invoices/internal/db"
	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/identity"
	"github.com/diewo77/clinic-invoices/internal/logging"
	"github.com/diewo77/clinic-invoices/internal/policy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const adminPassword = "Adm1n!pass"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.Seed(context.Background(), gdb, adminPassword))
	return gdb
}

func newTestApp(t *testing.T, limiter *httpx.RateLimiter) *App {
	t.Helper()
	gdb := setupTestDB(t)
	cfg := policy.NewRouterConfig(gdb, policy.Settings{
		Secret:     "test-secret",
		TokenTTL:   time.Hour,
		Logger:     zerolog.Nop(),
		BcryptCost: bcrypt.MinCost,
	})
	return NewApp(gdb, cfg, limiter, zerolog.Nop())
}

func call(t *testing.T, app http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set(identity.TokenHeader, token)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, r)
	return rec
}

func signin(t *testing.T, app http.Handler, username, password string) string {
	t.Helper()
	rec := call(t, app, http.MethodPost, "/auth/signin", "", fmt.Sprintf(`{"username":%q,"password":%q}`, username, password))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func TestApp_HealthAndMetrics(t *testing.T) {
	app := newTestApp(t, nil)

	rec := call(t, app, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(logging.RequestIDHeader))

	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.Header.Set(logging.RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	app.ServeHTTP(rec, r)
	assert.Equal(t, "req-42", rec.Header().Get(logging.RequestIDHeader))

	rec = call(t, app, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clinic_http_requests_total")
}

func TestApp_Authorization(t *testing.T) {
	app := newTestApp(t, nil)

	rec := call(t, app, http.MethodGet, "/products", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	admin := signin(t, app, db.AdminUsername, adminPassword)
	rec = call(t, app, http.MethodGet, "/products?limit=100", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &products))
	assert.NotEmpty(t, products, "seeded catalog")

	rec = call(t, app, http.MethodPost, "/auth/signup", "", `{"username":"nurse","password":"Nurs3!pass","repeat_password":"Nurs3!pass"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	client := signin(t, app, "nurse", "Nurs3!pass")

	rec = call(t, app, http.MethodGet, "/auth/checktoken", client, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"client"`)

	rec = call(t, app, http.MethodGet, "/products", client, "")
	assert.Equal(t, http.StatusOK, rec.Code, "clients may browse the catalog")
	rec = call(t, app, http.MethodPost, "/products", client, `{"name":"scalpel","normal_rate":"4"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(t, app, http.MethodPost, "/products/suture%20kit/components", client, `{"component":"gloves","multiplicity":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = call(t, app, http.MethodGet, "/reports/consumption", client, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(t, app, http.MethodPost, "/customers", client, `{"name":"Dr House","phone":"+15551234567"}`)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, app, http.MethodGet, "/reports/consumption", admin, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, app, http.MethodGet, "/products", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApp_InvoiceFlow(t *testing.T) {
	app := newTestApp(t, nil)
	admin := signin(t, app, db.AdminUsername, adminPassword)

	for _, req := range []struct{ target, body string }{
		{"/customers", `{"name":"Dr House","phone":"+15551234567"}`},
		{"/customers/dr%20house/patients", `{"name":"John Doe"}`},
		{"/invoices", `{"customer":"dr house","patient":"john doe"}`},
		{"/invoices/1/items", `{"product":"suture kit","quantity":1}`},
	} {
		rec := call(t, app, http.MethodPost, req.target, admin, req.body)
		require.Equal(t, http.StatusCreated, rec.Code, "%s: %s", req.target, rec.Body.String())
	}

	rec := call(t, app, http.MethodGet, "/products/suture%20kit/flatten", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var flat struct {
		Materials json.RawMessage `json:"materials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flat))

	rec = call(t, app, http.MethodGet, "/invoices/1/bom", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bom struct {
		Materials json.RawMessage `json:"materials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bom))
	assert.JSONEq(t, string(flat.Materials), string(bom.Materials), "one kit resolves like flattening the kit once")

	rec = call(t, app, http.MethodPost, "/invoices/1/finalize", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, app, http.MethodPost, "/invoices/1/returns", admin, `{"description":"torn packaging"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, app, http.MethodDelete, "/products/suture%20kit", admin, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "products on invoices cannot be removed")
}

func TestApp_RateLimit(t *testing.T) {
	limiter := httpx.NewRateLimiter(0.001, 1, zerolog.Nop())
	app := newTestApp(t, limiter)

	rec := call(t, app, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = call(t, app, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
