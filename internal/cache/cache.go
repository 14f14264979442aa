package cache

import (
	"context"
	"time"

	"siifmart/backend/internal/domain"
)

// SuggestionCache holds replenishment suggestions per site. It is read-through
// only; stock decisions never consult it.
type SuggestionCache interface {
	Get(ctx context.Context, key string) (*domain.ReplenishmentResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.ReplenishmentResponse, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopSuggestionCache struct{}

func (NoopSuggestionCache) Get(_ context.Context, _ string) (*domain.ReplenishmentResponse, bool, error) {
	return nil, false, nil
}

func (NoopSuggestionCache) Set(_ context.Context, _ string, _ *domain.ReplenishmentResponse, _ time.Duration) error {
	return nil
}

func (NoopSuggestionCache) Delete(_ context.Context, _ string) error {
	return nil
}
