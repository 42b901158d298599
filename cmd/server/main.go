// Package main is the entrypoint for the studio BFF server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/studioai/studio-bff/internal/allowlist"
	"github.com/studioai/studio-bff/internal/api"
	"github.com/studioai/studio-bff/internal/api/handler"
	mw "github.com/studioai/studio-bff/internal/api/middleware"
	"github.com/studioai/studio-bff/internal/api/response"
	"github.com/studioai/studio-bff/internal/cache"
	"github.com/studioai/studio-bff/internal/config"
	"github.com/studioai/studio-bff/internal/identity"
	"github.com/studioai/studio-bff/internal/jobs"
	"github.com/studioai/studio-bff/internal/metrics"
	"github.com/studioai/studio-bff/internal/secrets"
	"github.com/studioai/studio-bff/internal/store"
	"github.com/studioai/studio-bff/internal/upstream"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"allowed_hosts", cfg.Upstream.AllowedHosts,
		"upstream_timeout", cfg.Upstream.Timeout.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create the provider gateway
	m := metrics.New()
	gateway := upstream.NewGateway(
		allowlist.New(cfg.Upstream.AllowedHosts),
		secrets.EnvSource{},
		upstream.Options{
			Timeout:        cfg.Upstream.Timeout,
			MaxBodyBytes:   cfg.Upstream.MaxBodyBytes,
			RequestsPerSec: cfg.Upstream.RequestsPerSec,
			SecretName:     cfg.Upstream.SecretName,
			Metrics:        m,
		},
	)
	slog.Info("upstream gateway initialized", "secret", cfg.Upstream.SecretName)

	// 6. Create store and job service
	pgStore := store.NewPostgresStore(pool)
	svc := jobs.NewService(pgStore, gateway, redisCache, m, jobs.Options{
		Generation: upstream.GenerationParams{
			GuidanceScale:   cfg.Generation.GuidanceScale,
			NumImages:       cfg.Generation.NumImages,
			OutputFormat:    cfg.Generation.OutputFormat,
			SafetyTolerance: cfg.Generation.SafetyTolerance,
		},
		StatusCacheTTL: cfg.Upstream.StatusCacheTTL,
	})

	// 7. Build router with dependencies
	verifier := identity.NewFirebaseVerifier(cfg.Firebase.ProjectID, cfg.Firebase.JWKSURL)

	deps := api.Dependencies{
		FirebaseAuth: mw.NewFirebaseAuth(verifier),
		APIKeyAuth:   mw.NewAPIKeyAuth(pgStore),
		RateLimit:    mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),
		Metrics:      m,

		HealthHandler:       healthHandler(pgStore, redisCache),
		RelayHandler:        handler.NewRelayHandler(gateway),
		SubmitHandler:       handler.NewSubmitHandler(svc),
		StatusHandler:       handler.NewStatusHandler(svc),
		ResultHandler:       handler.NewResultHandler(svc),
		BalanceHandler:      handler.NewBalanceHandler(svc),
		HistoryHandler:      handler.NewHistoryHandler(svc),
		CreditHandler:       handler.NewCreditHandler(svc),
		AdminAccountHandler: handler.NewAdminAccountHandler(svc),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// provider calls may take up to the upstream timeout
		WriteTimeout: cfg.Upstream.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		drain(svc, shutdownTimeout)
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)

	// Let background ledger writes finish before the pool closes.
	drain(svc, shutdownTimeout)
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// drain waits for w, giving up after timeout. It reports whether w finished.
func drain(w interface{ Wait() }, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		slog.Warn("background writes still running at exit", "waited", timeout)
		return false
	}
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
