// Package main is the entrypoint for the genqueue worker. It claims queued
// jobs, runs their pipeline stage against the configured AI provider and
// sweeps expired and abandoned jobs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kiranshivaraju/genqueue/internal/ai"
	"github.com/kiranshivaraju/genqueue/internal/cache"
	"github.com/kiranshivaraju/genqueue/internal/config"
	"github.com/kiranshivaraju/genqueue/internal/pipeline"
	"github.com/kiranshivaraju/genqueue/internal/queue"
	"github.com/kiranshivaraju/genqueue/internal/quota"
	"github.com/kiranshivaraju/genqueue/internal/store"
	"github.com/kiranshivaraju/genqueue/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "workers", cfg.Worker.Count)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database, "genqueue-worker")
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	stages, err := pipeline.NewLLMRegistry(provider)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	pgStore := store.NewPostgresStore(pool)
	quotas := quota.NewController(pgStore, cfg.Quota)
	jobs := queue.NewManager(pgStore, redisCache, quotas, queue.OptionsFromConfig(cfg.Queue))

	serve(ctx, jobs, stages, cfg)

	slog.Info("worker stopped")
	return nil
}

// serve runs the worker pool and the sweeper until ctx ends.
func serve(ctx context.Context, jobs *queue.Manager, stages worker.StageLookup, cfg *config.Config) {
	processor := worker.NewProcessor(jobs, stages, heartbeatInterval(cfg.Queue.LeaseDuration))
	workers := worker.NewPool(jobs, processor, cfg.Worker.Count, cfg.Worker.PollInterval)
	sweeper := worker.NewSweeper(jobs, cfg.Queue.CleanupInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		workers.Run(ctx)
	}()
	wg.Wait()
}

// heartbeatInterval renews a lease three times per lease period so one
// missed beat does not lose the job.
func heartbeatInterval(lease time.Duration) time.Duration {
	if lease <= 0 {
		return 0
	}
	return lease / 3
}
