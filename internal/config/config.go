// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	App       AppConfig       `mapstructure:",squash"`
	Auth      AuthConfig      `mapstructure:",squash"`
	Log       LogConfig       `mapstructure:",squash"`
	RateLimit RateLimitConfig `mapstructure:",squash"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string `mapstructure:"PORT"`
	ReadTimeout  int    `mapstructure:"SERVER_READ_TIMEOUT"`  // seconds
	WriteTimeout int    `mapstructure:"SERVER_WRITE_TIMEOUT"` // seconds
	IdleTimeout  int    `mapstructure:"SERVER_IDLE_TIMEOUT"`  // seconds
}

// DatabaseConfig selects the gorm dialect and its connection settings.
// Host, Port, User, Password, DBName and SSLMode only matter for postgres
// when no explicit DSN is given.
type DatabaseConfig struct {
	Driver      string `mapstructure:"DB_DRIVER"`
	DSNOverride string `mapstructure:"DATABASE_DSN"`
	Host        string `mapstructure:"DB_HOST"`
	Port        int    `mapstructure:"DB_PORT"`
	User        string `mapstructure:"DB_USER"`
	Password    string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`
	SSLMode     string `mapstructure:"DB_SSLMODE"`
	Debug       bool   `mapstructure:"DB_DEBUG"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Env        string `mapstructure:"ENV"`
	Migrations bool   `mapstructure:"MIGRATIONS"`
	Seed       bool   `mapstructure:"DB_SEED"`
	AdminPass  string `mapstructure:"ADMIN_PASSWORD"`
}

// AuthConfig holds token signing settings.
type AuthConfig struct {
	Secret   string        `mapstructure:"SESSION_SECRET"`
	TokenTTL time.Duration `mapstructure:"TOKEN_TTL"`
}

type LogConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

// RateLimitConfig configures the per-client token bucket. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	Burst int     `mapstructure:"RATE_LIMIT_BURST"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	devSecret = "dev-secret-change-me"
)

var defaults = map[string]any{
	"PORT":                 "8080",
	"SERVER_READ_TIMEOUT":  15,
	"SERVER_WRITE_TIMEOUT": 15,
	"SERVER_IDLE_TIMEOUT":  60,
	"DB_DRIVER":            DriverSQLite,
	"DATABASE_DSN":         "",
	"DB_HOST":              "localhost",
	"DB_PORT":              5432,
	"DB_USER":              "invoices",
	"DB_PASSWORD":          "invoices123",
	"DB_NAME":              "invoices",
	"DB_SSLMODE":           "disable",
	"DB_DEBUG":             false,
	"ENV":                  "development",
	"MIGRATIONS":           false,
	"DB_SEED":              false,
	"ADMIN_PASSWORD":       "",
	"SESSION_SECRET":       devSecret,
	"TOKEN_TTL":            "24h",
	"LOG_LEVEL":            "info",
	"LOG_FORMAT":           "",
	"RATE_LIMIT_RPS":       50,
	"RATE_LIMIT_BURST":     100,
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that must not start.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.IsProduction() && (c.Auth.Secret == "" || c.Auth.Secret == devSecret) {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.Auth.TokenTTL)
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.App.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	if strings.HasPrefix(s.Port, ":") {
		return s.Port
	}
	return ":" + s.Port
}

// DSN returns the connection string handed to the gorm dialector. For
// postgres without an explicit DSN it is the key=value form.
func (d DatabaseConfig) DSN() string {
	if d.DSNOverride != "" {
		return d.DSNOverride
	}
	if d.Driver == DriverSQLite {
		return "clinic.db"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	lower := strings.ToLower(d.DSNOverride)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return d.DSNOverride
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}
