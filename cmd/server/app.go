package main

import (
	"context"
	"net/http"
	"time"

	"github.com/diewo77/clinic-invoices/internal/db"
	"github.com/diewo77/clinic-invoices/internal/gate"
	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/logging"
	"github.com/diewo77/clinic-invoices/internal/metrics"
	"github.com/diewo77/clinic-invoices/internal/policy"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// App is the main application handler that sets up all routes.
type App struct {
	mux       *http.ServeMux
	db        *gorm.DB
	routerCfg *policy.RouterConfig
	limiter   *httpx.RateLimiter
	log       zerolog.Logger
	handler   http.Handler
}

// NewApp creates a new application with all routes configured. A nil
// limiter disables rate limiting.
func NewApp(gdb *gorm.DB, routerCfg *policy.RouterConfig, limiter *httpx.RateLimiter, log zerolog.Logger) *App {
	app := &App{
		mux:       http.NewServeMux(),
		db:        gdb,
		routerCfg: routerCfg,
		limiter:   limiter,
		log:       log,
	}
	app.setupRoutes()
	app.handler = app.middleware(metrics.InstrumentHandler(app.mux))
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

func (a *App) middleware(next http.Handler) http.Handler {
	h := a.routerCfg.Identity.Middleware(next)
	if a.limiter != nil {
		h = a.limiter.Handler(h)
	}
	h = logging.Recovery(a.log)(h)
	h = logging.Logger(a.log)(h)
	return logging.RequestID(h)
}

func (a *App) setupRoutes() {
	// Public
	ah := a.routerCfg.AuthHandler
	a.mux.HandleFunc("POST /auth/signup", ah.Signup)
	a.mux.HandleFunc("POST /auth/signin", ah.Signin)
	a.mux.HandleFunc("GET /auth/checktoken", ah.CheckToken)
	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.Handle("GET /metrics", metrics.Handler())

	// Products and composition
	ph := a.routerCfg.ProductHandler
	a.route("GET /products", gate.ResourceProduct, gate.ActionList, ph.List)
	a.route("POST /products", gate.ResourceProduct, gate.ActionCreate, ph.Create)
	a.route("GET /products/{name}", gate.ResourceProduct, gate.ActionView, ph.Get)
	a.route("PATCH /products/{name}", gate.ResourceProduct, gate.ActionUpdate, ph.Update)
	a.route("DELETE /products/{name}", gate.ResourceProduct, gate.ActionDelete, ph.Delete)
	a.route("GET /products/{name}/components", gate.ResourceProduct, gate.ActionView, ph.Components)
	a.route("GET /products/{name}/used-in", gate.ResourceProduct, gate.ActionView, ph.UsedIn)
	a.route("POST /products/{name}/components", gate.ResourceProduct, gate.ActionCompose, ph.AddComponent)
	a.route("PUT /products/{name}/components/{component}", gate.ResourceProduct, gate.ActionCompose, ph.SetMultiplicity)
	a.route("DELETE /products/{name}/components/{component}", gate.ResourceProduct, gate.ActionCompose, ph.RemoveComponent)
	a.route("GET /products/{name}/flatten", gate.ResourceProduct, gate.ActionView, ph.Flatten)

	// Customers and patients
	ch := a.routerCfg.CustomerHandler
	a.route("GET /customers", gate.ResourceCustomer, gate.ActionList, ch.List)
	a.route("POST /customers", gate.ResourceCustomer, gate.ActionCreate, ch.Create)
	a.route("GET /customers/{name}", gate.ResourceCustomer, gate.ActionView, ch.Get)
	a.route("PATCH /customers/{name}", gate.ResourceCustomer, gate.ActionUpdate, ch.Update)
	a.route("GET /customers/{name}/patients", gate.ResourcePatient, gate.ActionList, ch.Patients)
	a.route("POST /customers/{name}/patients", gate.ResourcePatient, gate.ActionCreate, ch.AddPatient)

	// Invoices
	ih := a.routerCfg.InvoiceHandler
	a.route("GET /invoices", gate.ResourceInvoice, gate.ActionList, ih.List)
	a.route("POST /invoices", gate.ResourceInvoice, gate.ActionCreate, ih.Create)
	a.route("GET /invoices/{id}", gate.ResourceInvoice, gate.ActionView, ih.Get)
	a.route("POST /invoices/{id}/items", gate.ResourceInvoice, gate.ActionUpdate, ih.AddItem)
	a.route("DELETE /invoices/{id}/items/{item}", gate.ResourceInvoice, gate.ActionUpdate, ih.RemoveItem)
	a.route("POST /invoices/{id}/finalize", gate.ResourceInvoice, gate.ActionFinalize, ih.Finalize)
	a.route("POST /invoices/{id}/modify", gate.ResourceInvoice, gate.ActionModify, ih.Modify)
	a.route("POST /invoices/{id}/void", gate.ResourceInvoice, gate.ActionVoid, ih.Void)
	a.route("GET /invoices/{id}/bom", gate.ResourceInvoice, gate.ActionView, ih.BillOfMaterials)
	a.route("GET /invoices/{id}/total", gate.ResourceInvoice, gate.ActionView, ih.Total)
	a.route("GET /invoices/{id}/revisions", gate.ResourceInvoice, gate.ActionView, ih.Revisions)
	a.route("GET /invoices/{id}/revisions/{rev}", gate.ResourceInvoice, gate.ActionView, ih.Revision)
	a.route("GET /invoices/{id}/returns", gate.ResourceReturn, gate.ActionList, ih.Returns)
	a.route("POST /invoices/{id}/returns", gate.ResourceReturn, gate.ActionCreate, ih.RecordReturn)

	// Reports
	a.route("GET /reports/consumption", gate.ResourceReport, gate.ActionView, a.routerCfg.ReportHandler.Consumption)
}

// route registers fn behind the permission check for resource:action.
func (a *App) route(pattern, resource string, action gate.Action, fn http.HandlerFunc) {
	a.mux.Handle(pattern, a.requirePermission(resource, action)(fn))
}

func (a *App) requirePermission(resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return a.routerCfg.AuthGate.RequirePermission(resourceType, action)
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := db.Ping(ctx, a.db); err != nil {
		a.log.Warn().Err(err).Msg("health check failed")
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
