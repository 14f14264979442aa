// Package events publishes fulfillment events for out-of-band consumers.
// Publishing is fire-and-forget from the core's point of view: a failed
// publish is logged by the caller and never rolls back the operation.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault = "default"

	TaskJobCreated = "fulfillment:job_created"
	TaskLowStock   = "fulfillment:low_stock"
)

type JobCreatedPayload struct {
	JobID     string `json:"job_id"`
	JobNumber string `json:"job_number"`
	SiteID    string `json:"site_id"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	OrderRef  string `json:"order_ref"`
}

type LowStockPayload struct {
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	SiteID    string `json:"site_id"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
}

type Publisher interface {
	PublishJobCreated(ctx context.Context, payload JobCreatedPayload) error
	PublishLowStock(ctx context.Context, payload LowStockPayload) error
}

func NewJobCreatedTask(payload JobCreatedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJobCreated, data), nil
}

func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStock, data), nil
}

// LogPublisher writes events to the log. Used when no queue is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p LogPublisher) PublishJobCreated(_ context.Context, payload JobCreatedPayload) error {
	p.logger().Info("event job created",
		slog.String("job_id", payload.JobID),
		slog.String("job_number", payload.JobNumber),
		slog.String("type", payload.Type),
		slog.String("site_id", payload.SiteID),
		slog.String("priority", payload.Priority),
	)
	return nil
}

func (p LogPublisher) PublishLowStock(_ context.Context, payload LowStockPayload) error {
	p.logger().Info("event low stock",
		slog.String("product_id", payload.ProductID),
		slog.String("site_id", payload.SiteID),
		slog.Int("stock", payload.Stock),
		slog.Int("min_stock", payload.MinStock),
	)
	return nil
}

// AsynqPublisher enqueues events onto the default queue.
type AsynqPublisher struct {
	client *asynq.Client
}

func NewAsynqPublisher(redisOpts asynq.RedisClientOpt) *AsynqPublisher {
	return &AsynqPublisher{client: asynq.NewClient(redisOpts)}
}

func (p *AsynqPublisher) PublishJobCreated(ctx context.Context, payload JobCreatedPayload) error {
	task, err := NewJobCreatedTask(payload)
	if err != nil {
		return err
	}
	_, err = p.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(5))
	return err
}

func (p *AsynqPublisher) PublishLowStock(ctx context.Context, payload LowStockPayload) error {
	task, err := NewLowStockTask(payload)
	if err != nil {
		return err
	}
	_, err = p.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
	return err
}

func (p *AsynqPublisher) Close() error {
	return p.client.Close()
}
