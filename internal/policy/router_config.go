// Package policy wires the authorization gate, identity and handlers into
// one router configuration.
package policy

import (
	"time"

	"github.com/diewo77/clinic-invoices/internal/gate"
	"github.com/diewo77/clinic-invoices/internal/handlers"
	"github.com/diewo77/clinic-invoices/internal/identity"
	"github.com/diewo77/clinic-invoices/internal/services"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// RouterConfig holds configured handlers and middleware for the application.
type RouterConfig struct {
	AuthGate *gate.Gate
	Identity *identity.Service

	AuthHandler     *handlers.AuthHandler
	ProductHandler  *handlers.ProductHandler
	CustomerHandler *handlers.CustomerHandler
	InvoiceHandler  *handlers.InvoiceHandler
	ReportHandler   *handlers.ReportHandler

	Services *services.Services
}

// Settings carries what NewRouterConfig needs beyond the database.
type Settings struct {
	Secret   string
	TokenTTL time.Duration
	Logger   zerolog.Logger
	Clock    func() time.Time
	// BcryptCost overrides the password hashing cost when > 0.
	BcryptCost int
}

// NewRouterConfig creates a fully configured router setup over db.
func NewRouterConfig(db *gorm.DB, s Settings) *RouterConfig {
	svcOpts := []services.Option{services.WithLogger(s.Logger)}
	idOpts := []identity.Option{identity.WithLogger(s.Logger), identity.WithCacheTTL(5 * time.Minute)}
	if s.Clock != nil {
		svcOpts = append(svcOpts, services.WithClock(s.Clock))
		idOpts = append(idOpts, identity.WithClock(s.Clock))
	}

	if s.BcryptCost > 0 {
		idOpts = append(idOpts, identity.WithBcryptCost(s.BcryptCost))
	}

	svc := services.New(db, svcOpts...)
	ids := identity.NewService(db, s.Secret, s.TokenTTL, idOpts...)

	return &RouterConfig{
		AuthGate:        gate.New(identity.RoleFromContext),
		Identity:        ids,
		AuthHandler:     handlers.NewAuthHandler(ids),
		ProductHandler:  handlers.NewProductHandler(svc.Catalog, svc.Composition),
		CustomerHandler: handlers.NewCustomerHandler(svc.Clinic),
		InvoiceHandler:  handlers.NewInvoiceHandler(svc.Invoices, svc.Returns),
		ReportHandler:   handlers.NewReportHandler(svc.Invoices),
		Services:        svc,
	}
}
