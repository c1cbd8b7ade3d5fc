package db

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/diewo77/clinic-invoices/internal/config"
	"github.com/diewo77/clinic-invoices/internal/models"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	d, err := Open(config.DatabaseConfig{
		Driver:      config.DriverSQLite,
		DSNOverride: "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	sqlDB, _ := d.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := Migrate(d); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestMigrateCreatesTables(t *testing.T) {
	d := openTestDB(t)
	for _, m := range Models() {
		if !d.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}
	if err := Ping(context.Background(), d); err != nil {
		t.Fatalf("ping: %v", err)
	}
	// A second run is a no-op.
	if err := Migrate(d); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSeedIdempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	if err := Seed(ctx, d, "adm1n!pass"); err != nil {
		t.Fatal(err)
	}
	if err := Seed(ctx, d, "other!pass1"); err != nil {
		t.Fatal(err)
	}

	var products, edges, operators int64
	d.Model(&models.Product{}).Count(&products)
	d.Model(&models.CompositionEdge{}).Count(&edges)
	d.Model(&models.Operator{}).Count(&operators)
	if products != int64(len(demoProducts)) {
		t.Fatalf("expected %d products got %d", len(demoProducts), products)
	}
	if edges != int64(len(demoEdges)) {
		t.Fatalf("expected %d edges got %d", len(demoEdges), edges)
	}
	if operators != 1 {
		t.Fatalf("expected one admin got %d", operators)
	}

	var admin models.Operator
	if err := d.Where("username = ?", AdminUsername).First(&admin).Error; err != nil {
		t.Fatal(err)
	}
	if admin.Role != models.RoleAdmin {
		t.Errorf("admin role = %s", admin.Role)
	}
	if bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte("adm1n!pass")) != nil {
		t.Error("admin password should keep its first value")
	}

	var kit models.Product
	if err := d.Where("name = ?", "SUTURE KIT").First(&kit).Error; err != nil {
		t.Fatal(err)
	}
	if kit.ReducedRate == nil || !kit.ReducedRate.Equal(decimal.NewFromInt(12)) {
		t.Errorf("unexpected reduced rate %v", kit.ReducedRate)
	}
}

func TestSeedWithoutAdmin(t *testing.T) {
	d := openTestDB(t)
	if err := Seed(context.Background(), d, ""); err != nil {
		t.Fatal(err)
	}
	var operators int64
	d.Model(&models.Operator{}).Count(&operators)
	if operators != 0 {
		t.Fatalf("expected no operators got %d", operators)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "mysql"}, zerolog.Nop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	v, err := src.First()
	if err != nil {
		t.Fatal(err)
	}
	for {
		up, _, err := src.ReadUp(v)
		if err != nil {
			t.Fatalf("version %d has no up migration: %v", v, err)
		}
		body, _ := io.ReadAll(up)
		up.Close()
		if len(body) == 0 {
			t.Errorf("version %d up migration is empty", v)
		}
		down, _, err := src.ReadDown(v)
		if err != nil {
			t.Fatalf("version %d has no down migration: %v", v, err)
		}
		down.Close()

		next, err := src.Next(v)
		if err != nil {
			break
		}
		v = next
	}
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{` "postgres://u:p@h/db" `, "postgres://u:p@h/db"},
		{"host=h  user=u dbname=d", "host=h user=u dbname=d sslmode=disable"},
		{"host=h user=u dbname=d sslmode=require", "host=h user=u dbname=d sslmode=require"},
		{"clinic.db", "clinic.db"},
	}
	for _, tt := range tests {
		if got := NormalizeDSN(tt.in); got != tt.want {
			t.Errorf("NormalizeDSN(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToURLDSN(t *testing.T) {
	got := ToURLDSN("host=db port=5432 user=u password=p dbname=clinic sslmode=disable")
	if want := "postgres://u:p@db:5432/clinic?sslmode=disable"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := ToURLDSN("host=db dbname=clinic"); got != "host=db dbname=clinic" {
		t.Errorf("incomplete DSN should pass through, got %q", got)
	}
}

func TestMaskDSN(t *testing.T) {
	if got := MaskDSN("host=h password=secret user=u"); got != "host=h password=*** user=u" {
		t.Errorf("kv mask = %q", got)
	}
	if got := MaskDSN("postgres://u:secret@h:5432/db"); got != "postgres://u:***@h:5432/db" {
		t.Errorf("url mask = %q", got)
	}
}
