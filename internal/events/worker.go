package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// SuggestionInvalidator drops cached replenishment suggestions for a site.
type SuggestionInvalidator interface {
	Invalidate(ctx context.Context, siteID string) error
}

type Handlers struct {
	Logger      *slog.Logger
	Suggestions SuggestionInvalidator
}

func (h Handlers) HandleJobCreated(ctx context.Context, t *asynq.Task) error {
	var payload JobCreatedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	h.Logger.InfoContext(ctx, "notify warehouse",
		slog.String("job_number", payload.JobNumber),
		slog.String("type", payload.Type),
		slog.String("site_id", payload.SiteID),
		slog.String("priority", payload.Priority),
	)
	return nil
}

func (h Handlers) HandleLowStock(ctx context.Context, t *asynq.Task) error {
	var payload LowStockPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	h.Logger.InfoContext(ctx, "notify low stock",
		slog.String("sku", payload.SKU),
		slog.String("site_id", payload.SiteID),
		slog.Int("stock", payload.Stock),
		slog.Int("min_stock", payload.MinStock),
	)
	if h.Suggestions == nil {
		return nil
	}
	return h.Suggestions.Invalidate(ctx, payload.SiteID)
}

func (h Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskJobCreated, h.HandleJobCreated)
	mux.HandleFunc(TaskLowStock, h.HandleLowStock)
	return mux
}

// Worker wraps the asynq server consuming fulfillment events.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

func NewWorker(redisOpts asynq.RedisClientOpt, handlers Handlers, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 5
	}
	if handlers.Logger == nil {
		handlers.Logger = slog.Default()
	}
	srv := asynq.NewServer(redisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueDefault: 1},
		Logger:      newAsynqLogger(handlers.Logger),
	})
	return &Worker{server: srv, mux: handlers.Mux(), logger: handlers.Logger}
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	select {
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type asynqLogger struct {
	logger *slog.Logger
}

func newAsynqLogger(logger *slog.Logger) asynqLogger {
	return asynqLogger{logger: logger.With(slog.String("component", "asynq"))}
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
