// Rollcall: classroom web shell with an animated welcome banner.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/d9705996/rollcall/internal/account"
	rollcallapi "github.com/d9705996/rollcall/internal/api"
	"github.com/d9705996/rollcall/internal/api/handler"
	"github.com/d9705996/rollcall/internal/banner"
	"github.com/d9705996/rollcall/internal/config"
	"github.com/d9705996/rollcall/internal/db"
	"github.com/d9705996/rollcall/internal/health"
	"github.com/d9705996/rollcall/internal/observability"
	"github.com/d9705996/rollcall/internal/seed"
	"github.com/d9705996/rollcall/internal/version"
	"github.com/d9705996/rollcall/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "rollcall",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
		Attributes: []attribute.KeyValue{
			attribute.String("rollcall.db.driver", cfg.DB.Driver),
			attribute.String("rollcall.banner.idle_ttl", cfg.Banner.IdleTTL.String()),
			attribute.Bool("rollcall.auth.registration", cfg.Auth.AllowRegistration),
		},
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		if err := obs.Shutdown(context.Background()); err != nil {
			log.Error("otel shutdown", "err", err)
		}
	}()
	slog.SetDefault(log)
	log.Info("starting rollcall", "version", version.String(), "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	// db.New opens the connection, runs migrations (AutoMigrate for SQLite,
	// golang-migrate for Postgres), and returns the GORM handle plus an
	// optional pgxpool (non-nil only for postgres, used by River).
	gormDB, pool, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	if pool != nil {
		defer pool.Close()
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			log.Error("db close error", "err", err)
		}
	}()
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Seed admin ----------------------------------------------------------
	if err := seed.EnsureAdmin(ctx, gormDB, seed.AdminOptions{
		Email:    cfg.App.SeedAdminEmail,
		Name:     cfg.App.SeedAdminName,
		Password: cfg.App.SeedAdminPassword,
	}, log); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// --- Accounts ------------------------------------------------------------
	// Without a mail relay, reset tokens are printed to stdout next to the
	// seed password.
	accounts := account.New(gormDB, account.Options{
		JWTSecret:         cfg.JWT.Secret,
		AccessTTL:         cfg.JWT.AccessTTL,
		RefreshTTL:        cfg.JWT.RefreshTTL,
		ResetTTL:          cfg.Auth.ResetTTL,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
		AllowRegistration: cfg.Auth.AllowRegistration,
		Notifier:          &account.WriterNotifier{Out: os.Stdout},
		Logger:            log,
	})

	// --- Banners -------------------------------------------------------------
	banners := banner.NewRegistry(banner.RegistryConfig{
		Clock:   banner.SystemClock{},
		IdleTTL: cfg.Banner.IdleTTL,
		Logger:  log,
	})
	defer banners.Shutdown()

	// --- Worker queue --------------------------------------------------------
	// River migrations only run when Postgres is available.
	if pool != nil {
		if err := worker.MigrateRiver(ctx, pool); err != nil {
			return fmt.Errorf("river migrations: %w", err)
		}
		log.Info("river migrations applied")
	}

	wq, err := worker.New(ctx, pool, worker.Options{
		Driver:        cfg.DB.Driver,
		Concurrency:   cfg.Worker.Concurrency,
		SweepInterval: cfg.Banner.SweepInterval,
		Sweeper:       banners,
		Logger:        log,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	mux := http.NewServeMux()
	rollcallapi.RegisterRoutes(mux, rollcallapi.Deps{
		Health:    health.New(db.NewPinger(gormDB), banners),
		Auth:      handler.NewAuthHandler(accounts, log),
		Banners:   handler.NewBannerHandler(banners, log),
		JWTSecret: cfg.JWT.Secret,
		Logger:    log,
	})
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	// SPA: serve embedded frontend from ui/dist
	if err := registerSPA(mux); err != nil {
		return fmt.Errorf("mount spa: %w", err)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Event streams never finish on their own; tearing the banners down
	// first ends them so Shutdown does not wait out the timeout.
	log.Info("banners torn down", "count", banners.Shutdown())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
