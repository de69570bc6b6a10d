// Package main is the entrypoint for the genqueue API server.
//
// @title genqueue API
// @version 1.0
// @description Quota-gated asynchronous AI generation queue.
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
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

	_ "github.com/kiranshivaraju/genqueue/docs"
	"github.com/kiranshivaraju/genqueue/internal/api"
	"github.com/kiranshivaraju/genqueue/internal/api/handler"
	mw "github.com/kiranshivaraju/genqueue/internal/api/middleware"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/quota"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/pkg/models"
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
	slog.Info("config loaded", "env", cfg.Server.Env, "batch_limit", cfg.Queue.BatchLimit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database, "genqueue-server")
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

	// 5. Services
	pgStore := store.NewPostgresStore(pool)
	quotas := quota.NewController(pgStore, cfg.Quota)
	jobs := queue.NewManager(pgStore, redisCache, quotas, queue.OptionsFromConfig(cfg.Queue))

	if cfg.Server.AdminAPIKey != "" {
		if err := bootstrapAdminKey(ctx, pgStore, cfg.Server.AdminAPIKey); err != nil {
			return fmt.Errorf("bootstrap admin key: %w", err)
		}
	}

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		CreateJobHandler:  handler.NewCreateJobHandler(jobs, quotas),
		ListJobsHandler:   handler.NewListJobsHandler(jobs),
		JobHistoryHandler: handler.NewJobHistoryHandler(jobs),
		GetJobHandler:     handler.NewGetJobHandler(jobs),
		CancelJobHandler:  handler.NewCancelJobHandler(jobs),

		UsageHandler:      handler.NewUsageHandler(quotas),
		CheckLimitHandler: handler.NewCheckLimitHandler(quotas),

		QueueStatsHandler:  handler.NewQueueStatsHandler(jobs),
		UpgradeTierHandler: handler.NewUpgradeTierHandler(quotas),
		ResetUsageHandler:  handler.NewResetUsageHandler(quotas),
		CreateKeyHandler:   handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:    handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:   handler.NewRevokeKeyHandler(pgStore),

		ServeDocs: cfg.Server.Env != "production",
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// bootstrapAdminKey installs the configured admin key on the default tenant.
func bootstrapAdminKey(ctx context.Context, s store.Store, rawKey string) error {
	tenant, err := s.GetDefaultTenant(ctx)
	if err != nil {
		return fmt.Errorf("load default tenant: %w", err)
	}
	created, err := handler.EnsureAPIKey(ctx, s, tenant.ID, "bootstrap-admin", rawKey, []string{models.ScopeAdmin})
	if err != nil {
		return err
	}
	if created {
		slog.Info("admin api key installed", "tenant_id", tenant.ID, "key_prefix", rawKey[:8])
	}
	return nil
}
