package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"siifmart/backend/internal/cache"
	"siifmart/backend/internal/config"
	"siifmart/backend/internal/events"
	"siifmart/backend/internal/replenishment"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/store/memory"
	pgstore "siifmart/backend/internal/store/postgres"
)

// The worker consumes job-created and low-stock events published by the API
// server and drops stale replenishment suggestions from the shared cache.
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg).With(slog.String("process", "worker"))
	slog.SetDefault(logger)

	if cfg.RedisAddr == "" {
		logger.Error("REDIS_ADDR is required for the event worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logger.Error("postgres unavailable", slog.Any("error", err))
			os.Exit(1)
		}
		defer pg.Close()
		repo = pg
	} else {
		repo = memory.NewSeeded()
	}

	redisCache := cache.NewRedisSuggestionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisCache.Close()

	suggestions := replenishment.NewEngine(repo, redisCache, cfg.SuggestionTTL, logger)
	worker := events.NewWorker(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, events.Handlers{Logger: logger, Suggestions: suggestions}, 5)

	logger.Info("event worker started", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("event worker stopped")
}
