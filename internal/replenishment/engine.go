package replenishment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"siifmart/backend/internal/cache"
	"siifmart/backend/internal/domain"
)

type ProductSource interface {
	ListProducts(ctx context.Context, siteID string) ([]domain.Product, error)
}

// Engine ranks products at or below their reorder threshold. Results are
// cached per site and concurrent misses for one site share a single load.
type Engine struct {
	source   ProductSource
	cache    cache.SuggestionCache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

func NewEngine(source ProductSource, cacheStore cache.SuggestionCache, cacheTTL time.Duration, logger *slog.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopSuggestionCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		source:   source,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

func (e *Engine) Suggest(ctx context.Context, siteID string) (domain.ReplenishmentResponse, error) {
	key := CacheKey(siteID)
	if cached, ok, err := e.cache.Get(ctx, key); err != nil {
		e.logger.Warn("replenishment cache get", slog.String("site_id", siteID), slog.Any("error", err))
	} else if ok {
		cached.Cached = true
		return *cached, nil
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		products, err := e.source.ListProducts(ctx, siteID)
		if err != nil {
			return nil, err
		}
		resp := domain.ReplenishmentResponse{
			SiteID:      siteID,
			Suggestions: Rank(products),
			GeneratedAt: time.Now().UTC(),
		}
		if err := e.cache.Set(ctx, key, &resp, e.cacheTTL); err != nil {
			e.logger.Warn("replenishment cache set", slog.String("site_id", siteID), slog.Any("error", err))
		}
		return resp, nil
	})
	if err != nil {
		return domain.ReplenishmentResponse{}, err
	}
	return v.(domain.ReplenishmentResponse), nil
}

// Invalidate drops the cached ranking for a site so the next read reloads it.
func (e *Engine) Invalidate(ctx context.Context, siteID string) error {
	return e.cache.Delete(ctx, CacheKey(siteID))
}

func CacheKey(siteID string) string {
	return fmt.Sprintf("siifmart:replenishment:%s", siteID)
}

// Rank returns a suggestion for every non-archived product whose stock is at
// or below its minimum, most urgent first. The suggested quantity restores
// stock to twice the minimum.
func Rank(products []domain.Product) []domain.ReplenishmentSuggestion {
	suggestions := make([]domain.ReplenishmentSuggestion, 0, 16)
	for _, p := range products {
		if p.Status == domain.ProductStatusArchived {
			continue
		}
		minStock := p.MinStock
		if minStock <= 0 {
			minStock = domain.DefaultMinStock
		}
		if p.Stock > minStock {
			continue
		}
		target := minStock * 2
		qty := target - p.Stock
		if qty < 1 {
			continue
		}
		urgency := clamp(1-float64(p.Stock)/float64(minStock), 0, 1)
		suggestions = append(suggestions, domain.ReplenishmentSuggestion{
			ProductID:    p.ID,
			SKU:          p.SKU,
			Name:         p.Name,
			Stock:        p.Stock,
			MinStock:     minStock,
			SuggestedQty: qty,
			Urgency:      round2(urgency),
			Reason:       reasonFor(p.Stock, minStock),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Urgency != suggestions[j].Urgency {
			return suggestions[i].Urgency > suggestions[j].Urgency
		}
		if suggestions[i].SuggestedQty != suggestions[j].SuggestedQty {
			return suggestions[i].SuggestedQty > suggestions[j].SuggestedQty
		}
		return suggestions[i].SKU < suggestions[j].SKU
	})
	return suggestions
}

func reasonFor(stock int, minStock int) string {
	switch {
	case stock <= 0:
		return "out_of_stock"
	case stock < minStock:
		return "below_min_stock"
	default:
		return "at_min_stock"
	}
}

func clamp(val float64, minVal float64, maxVal float64) float64 {
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}

func round2(val float64) float64 {
	return math.Round(val*100) / 100
}
