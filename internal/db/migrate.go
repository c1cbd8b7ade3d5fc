package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/diewo77/clinic-invoices/internal/models"
	migrate "github.com/golang-migrate/migrate/v4"
	// Registers the postgres database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Models lists every persisted type in dependency order.
func Models() []any {
	return []any{
		&models.Product{},
		&models.CompositionEdge{},
		&models.Customer{},
		&models.Patient{},
		&models.Operator{},
		&models.Invoice{},
		&models.InvoiceItem{},
		&models.InvoiceRevision{},
		&models.InvoiceRevisionItem{},
		&models.InvoiceReturn{},
	}
}

// Migrate runs GORM AutoMigrate for all models and checks the core tables
// exist afterwards.
func Migrate(gdb *gorm.DB) error {
	for _, m := range Models() {
		if err := gdb.AutoMigrate(m); err != nil {
			return fmt.Errorf("automigrate %T: %w", m, err)
		}
	}
	for _, table := range []string{"products", "composition_edges", "invoices", "operators"} {
		if !gdb.Migrator().HasTable(table) {
			return errors.New("missing table after migration: " + table)
		}
	}
	return nil
}

// MigrateSQL applies the embedded SQL migrations to the postgres database
// at url. An up-to-date schema is not an error.
func MigrateSQL(url string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
