package replenishment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siifmart/backend/internal/cache"
	"siifmart/backend/internal/domain"
)

type countingSource struct {
	calls    atomic.Int32
	products []domain.Product
	delay    time.Duration
}

func (s *countingSource) ListProducts(_ context.Context, _ string) ([]domain.Product, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return s.products, nil
}

func sampleProducts() []domain.Product {
	return []domain.Product{
		{ID: "a", SKU: "A", Stock: 0, MinStock: 10},
		{ID: "b", SKU: "B", Stock: 5, MinStock: 10},
		{ID: "c", SKU: "C", Stock: 10, MinStock: 10},
		{ID: "d", SKU: "D", Stock: 50, MinStock: 10},
		{ID: "e", SKU: "E", Stock: 0, MinStock: 10, Status: domain.ProductStatusArchived},
	}
}

func TestRankOrdersByUrgency(t *testing.T) {
	got := Rank(sampleProducts())
	require.Len(t, got, 3)
	require.Equal(t, "a", got[0].ProductID)
	require.Equal(t, 20, got[0].SuggestedQty)
	require.Equal(t, "out_of_stock", got[0].Reason)
	require.Equal(t, "b", got[1].ProductID)
	require.Equal(t, 15, got[1].SuggestedQty)
	require.Equal(t, "c", got[2].ProductID)
	require.Equal(t, "at_min_stock", got[2].Reason)
}

func TestSuggestUsesCacheAfterFirstLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisSuggestionCache(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = redisCache.Close() })

	src := &countingSource{products: sampleProducts()}
	engine := NewEngine(src, redisCache, time.Minute, nil)
	ctx := context.Background()

	first, err := engine.Suggest(ctx, "site-main")
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := engine.Suggest(ctx, "site-main")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, int32(1), src.calls.Load())

	require.NoError(t, engine.Invalidate(ctx, "site-main"))
	_, err = engine.Suggest(ctx, "site-main")
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestSuggestCollapsesConcurrentMisses(t *testing.T) {
	src := &countingSource{products: sampleProducts(), delay: 50 * time.Millisecond}
	engine := NewEngine(src, nil, time.Minute, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Suggest(context.Background(), "site-main")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Less(t, src.calls.Load(), int32(8))
}
