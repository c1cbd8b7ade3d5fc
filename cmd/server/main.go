package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/diewo77/clinic-invoices/internal/config"
	"github.com/diewo77/clinic-invoices/internal/db"
	"github.com/diewo77/clinic-invoices/internal/httpx"
	"github.com/diewo77/clinic-invoices/internal/logging"
	"github.com/diewo77/clinic-invoices/internal/policy"
	"github.com/diewo77/clinic-invoices/internal/services"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every subcommand needs: configuration, a logger and an open
// database.
type env struct {
	cfg *config.Config
	log zerolog.Logger
	db  *gorm.DB
}

func setup(migrate bool) (*env, error) {
	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	gdb, err := db.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(gdb); err != nil {
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		log.Info().Msg("migrations completed")
	}
	return &env{cfg: cfg, log: log, db: gdb}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "clinic-invoices",
		Short:        "Clinic invoicing with composite products",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newFlattenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(false)
			if err != nil {
				return err
			}
			if e.cfg.App.Migrations {
				if err := runMigrations(e); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				e.log.Info().Str("driver", e.cfg.Database.Driver).Msg("migrations completed")
			}
			if e.cfg.App.Seed {
				if err := db.Seed(cmd.Context(), e.db, e.cfg.App.AdminPass); err != nil {
					return fmt.Errorf("seeding failed: %w", err)
				}
			}
			return serve(e)
		},
	}
}

// runMigrations applies the versioned SQL migrations on postgres and
// AutoMigrate on sqlite.
func runMigrations(e *env) error {
	if e.cfg.Database.Driver == config.DriverPostgres {
		return db.MigrateSQL(e.cfg.Database.URL())
	}
	return db.Migrate(e.db)
}

func serve(e *env) error {
	routerCfg := policy.NewRouterConfig(e.db, policy.Settings{
		Secret:   e.cfg.Auth.Secret,
		TokenTTL: e.cfg.Auth.TokenTTL,
		Logger:   e.log,
	})

	stop := make(chan struct{})
	defer close(stop)
	var limiter *httpx.RateLimiter
	if e.cfg.RateLimit.RPS > 0 {
		limiter = httpx.NewRateLimiter(e.cfg.RateLimit.RPS, e.cfg.RateLimit.Burst, e.log)
		limiter.StartCleanup(time.Minute, stop)
	}

	srv := &http.Server{
		Addr:         e.cfg.Server.Addr(),
		Handler:      NewApp(e.db, routerCfg, limiter, e.log),
		ReadTimeout:  time.Duration(e.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(e.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(e.cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info().Str("addr", srv.Addr).Str("env", e.cfg.App.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		e.log.Info().Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		e.log.Error().Err(err).Msg("error during shutdown")
		return err
	}
	e.log.Info().Msg("server stopped gracefully")
	return nil
}

func newMigrateCmd() *cobra.Command {
	var useSQL bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			if useSQL {
				_ = godotenv.Load()
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if cfg.Database.Driver != config.DriverPostgres {
					return fmt.Errorf("--sql requires DB_DRIVER=%s", config.DriverPostgres)
				}
				return db.MigrateSQL(cfg.Database.URL())
			}
			_, err := setup(true)
			return err
		},
	}
	cmd.Flags().BoolVar(&useSQL, "sql", false, "run the versioned SQL migrations instead of AutoMigrate")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo catalog and admin operator",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(true)
			if err != nil {
				return err
			}
			if err := db.Seed(cmd.Context(), e.db, e.cfg.App.AdminPass); err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}
			e.log.Info().Msg("seeding completed")
			return nil
		},
	}
}

func newFlattenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flatten <product> [count]",
		Short: "Print the bill of materials of a product",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := int64(1)
			if len(args) == 2 {
				n, err := strconv.ParseInt(args[1], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid count %q", args[1])
				}
				count = n
			}
			e, err := setup(false)
			if err != nil {
				return err
			}
			bom, err := services.NewCompositionService(e.db, services.WithLogger(e.log)).Flatten(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range bom.Sorted() {
				fmt.Fprintf(out, "%-30s %d\n", line.Product, line.Quantity)
			}
			return nil
		},
	}
}
