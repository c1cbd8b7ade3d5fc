// Package db opens the gorm connection, applies migrations and seeds demo data.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/clinic-invoices/internal/config"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const connectAttempts = 5

// retryDelay is a variable so tests can shorten it.
var retryDelay = 2 * time.Second

// Open connects using the configured driver. Postgres connections are
// retried to leave the server time to start.
func Open(cfg config.DatabaseConfig, log zerolog.Logger) (*gorm.DB, error) {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		gdb, err := gorm.Open(sqlite.Open(cfg.DSN()), gcfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
		log.Info().Str("driver", cfg.Driver).Str("dsn", cfg.DSN()).Msg("database opened")
		return gdb, nil

	case config.DriverPostgres:
		dsn := NormalizeDSN(cfg.DSN())
		var (
			gdb *gorm.DB
			err error
		)
		for i := 1; i <= connectAttempts; i++ {
			gdb, err = gorm.Open(postgres.Open(dsn), gcfg)
			if err == nil {
				err = Ping(context.Background(), gdb)
			}
			if err == nil {
				break
			}
			log.Warn().Err(err).Int("attempt", i).Int("of", connectAttempts).Msg("database not ready, retrying")
			time.Sleep(retryDelay)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to connect database after retries: %w", err)
		}
		log.Info().Str("driver", cfg.Driver).Str("dsn", MaskDSN(dsn)).Msg("database opened")
		return gdb, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

// Ping checks the connection is alive.
func Ping(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping failed: %w", err)
	}
	return nil
}
