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

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"siifmart/backend/internal/cache"
	"siifmart/backend/internal/config"
	"siifmart/backend/internal/events"
	"siifmart/backend/internal/httpapi"
	"siifmart/backend/internal/metrics"
	"siifmart/backend/internal/replenishment"
	"siifmart/backend/internal/service"
	"siifmart/backend/internal/store"
	"siifmart/backend/internal/store/memory"
	pgstore "siifmart/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	if err := cfg.ValidateSecurity(); err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close error", slog.Any("error", err))
			}
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing in-memory fallback: %w", err)
		}
		closers = append(closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		logger.Info("repository: in-memory")
	}

	suggestionCache := cache.SuggestionCache(cache.NoopSuggestionCache{})
	var publisher events.Publisher = events.LogPublisher{Logger: logger}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSuggestionCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using noop cache and log publisher", slog.Any("error", err))
			_ = redisCache.Close()
		} else {
			suggestionCache = redisCache
			closers = append(closers, redisCache.Close)

			asynqPublisher := events.NewAsynqPublisher(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			publisher = asynqPublisher
			closers = append(closers, asynqPublisher.Close)
			logger.Info("cache: redis, events: asynq")
		}
	} else {
		logger.Info("cache: noop, events: log")
	}

	taxRules, err := cfg.ParsedTaxRules()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	suggestions := replenishment.NewEngine(repo, suggestionCache, cfg.SuggestionTTL, logger)
	svc := service.New(repo, service.Options{
		DefaultSiteID: cfg.DefaultSiteID,
		TaxRules:      taxRules,
		CashRounding:  cfg.CashRounding,
		MaxActiveJobs: cfg.MaxActiveJobs,
		Publisher:     publisher,
		Suggestions:   suggestions,
		Metrics:       m,
		Logger:        logger,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		LoginRateLimit: cfg.LoginRateLimit,
		Production:     cfg.IsProduction(),
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fulfillment backend listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
