package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/diewo77/clinic-invoices/internal/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

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
	return gdb
}

func rate(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedChain registers A -> B x2 -> C x3 and returns the services.
func seedChain(t *testing.T, svc *Services) {
	t.Helper()
	ctx := context.Background()
	for _, n := range []string{"A", "B", "C"} {
		_, err := svc.Catalog.Register(ctx, n, rate("1.00"), "", nil)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Composition.DefineAggregate(ctx, "A", "B", 2))
	require.NoError(t, svc.Composition.DefineAggregate(ctx, "B", "C", 3))
}

// seedClinic adds doctor DR HOUSE with patient JOHN DOE.
func seedClinic(t *testing.T, svc *Services) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.Clinic.AddCustomer(ctx, "Dr House", "221B Baker St", "+15551234567", "house@ppth.org")
	require.NoError(t, err)
	_, err = svc.Clinic.AddPatient(ctx, "dr house", "John Doe")
	require.NoError(t, err)
}

func newServices(t *testing.T) *Services {
	t.Helper()
	return New(setupTestDB(t))
}
