package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

type invalidatorStub struct {
	sites []string
}

func (s *invalidatorStub) Invalidate(_ context.Context, siteID string) error {
	s.sites = append(s.sites, siteID)
	return nil
}

func TestNewTasksCarryPayload(t *testing.T) {
	task, err := NewJobCreatedTask(JobCreatedPayload{JobID: "job-1", Type: "PICK", SiteID: "site-main"})
	require.NoError(t, err)
	require.Equal(t, TaskJobCreated, task.Type())

	var decoded JobCreatedPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	require.Equal(t, "job-1", decoded.JobID)

	low, err := NewLowStockTask(LowStockPayload{ProductID: "prod-tea", Stock: 3, MinStock: 10})
	require.NoError(t, err)
	require.Equal(t, TaskLowStock, low.Type())
}

func TestHandleLowStockInvalidatesSuggestions(t *testing.T) {
	var buf bytes.Buffer
	stub := &invalidatorStub{}
	h := Handlers{Logger: slog.New(slog.NewTextHandler(&buf, nil)), Suggestions: stub}

	task, err := NewLowStockTask(LowStockPayload{ProductID: "prod-tea", SKU: "SKU-TEA-50", SiteID: "site-main", Stock: 3, MinStock: 10})
	require.NoError(t, err)
	require.NoError(t, h.HandleLowStock(context.Background(), task))
	require.Equal(t, []string{"site-main"}, stub.sites)
	require.Contains(t, buf.String(), "SKU-TEA-50")
}

func TestHandlersSkipRetryOnBadPayload(t *testing.T) {
	h := Handlers{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}
	err := h.HandleJobCreated(context.Background(), asynq.NewTask(TaskJobCreated, []byte("{")))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestLogPublisherNeverFails(t *testing.T) {
	var buf bytes.Buffer
	p := LogPublisher{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, p.PublishJobCreated(context.Background(), JobCreatedPayload{JobNumber: "PICK-ABC123"}))
	require.NoError(t, p.PublishLowStock(context.Background(), LowStockPayload{ProductID: "p"}))
	require.Contains(t, buf.String(), "PICK-ABC123")
}
