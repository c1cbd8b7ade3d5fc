package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("expected 24h token ttl, got %s", cfg.Auth.TokenTTL)
	}
	if !cfg.IsDev() {
		t.Error("expected development by default")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("MIGRATIONS", "true")
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr() != ":9090" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.Database.Driver != DriverPostgres || cfg.Database.Host != "db" || cfg.Database.Port != 5433 {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if !cfg.App.Migrations {
		t.Error("expected migrations enabled")
	}
	if cfg.Auth.TokenTTL != 90*time.Minute {
		t.Errorf("token ttl = %s", cfg.Auth.TokenTTL)
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Errorf("rps = %v", cfg.RateLimit.RPS)
	}
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for unknown driver")
		}
	})
	t.Run("production secret", func(t *testing.T) {
		t.Setenv("ENV", "production")
		if _, err := Load(); err == nil {
			t.Fatal("expected error without SESSION_SECRET in production")
		}
		t.Setenv("SESSION_SECRET", "s3cr3t")
		if _, err := Load(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{
		Driver: DriverPostgres, Host: "localhost", Port: 5432,
		User: "u", Password: "p", DBName: "clinic", SSLMode: "disable",
	}
	if got, want := d.DSN(), "host=localhost port=5432 user=u password=p dbname=clinic sslmode=disable"; got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
	if got, want := d.URL(), "postgres://u:p@localhost:5432/clinic?sslmode=disable"; got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}

	d.DSNOverride = "postgres://x:y@h/db"
	if d.DSN() != d.DSNOverride || d.URL() != d.DSNOverride {
		t.Errorf("override not honoured: %q %q", d.DSN(), d.URL())
	}

	s := DatabaseConfig{Driver: DriverSQLite}
	if s.DSN() != "clinic.db" {
		t.Errorf("sqlite default DSN = %q", s.DSN())
	}
}
