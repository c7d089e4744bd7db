package reorder

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/cache"
	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
)

// Engine turns 30-day sales velocity and current lot stock into purchase
// suggestions. Results are cached per branch because the underlying
// aggregation walks every sale line in the window.
type Engine struct {
	cache        cache.ReorderCache
	cacheTTL     time.Duration
	coverFactor  float64
	minSuggested int
}

func NewEngine(cacheStore cache.ReorderCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReorderCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}

	return &Engine{
		cache:        cacheStore,
		cacheTTL:     cacheTTL,
		coverFactor:  1.5,
		minSuggested: 5,
	}
}

func (e *Engine) Suggest(
	ctx context.Context,
	branchID string,
	products []domain.Product,
	stockByProduct map[string]int,
	soldByProduct map[string]int,
) domain.ReorderSuggestionResponse {
	cacheKey := buildCacheKey(branchID)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return *cached
	}

	suggestions := make([]domain.ReorderSuggestion, 0, 24)
	for _, product := range products {
		if !product.Active {
			continue
		}

		sold := soldByProduct[product.ID]
		current := stockByProduct[product.ID]

		// Target covering the next velocity window with headroom.
		target := int(math.Ceil(float64(sold) * e.coverFactor))
		if sold > 0 && target < e.minSuggested {
			target = e.minSuggested
		}
		if current >= target {
			continue
		}
		suggested := target - current
		if suggested < 1 {
			continue
		}

		suggestions = append(suggestions, domain.ReorderSuggestion{
			ProductID:      product.ID,
			ProductName:    product.Name,
			CurrentStock:   current,
			SoldLast30Days: sold,
			SuggestedQty:   suggested,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].SuggestedQty == suggestions[j].SuggestedQty {
			return suggestions[i].ProductName < suggestions[j].ProductName
		}
		return suggestions[i].SuggestedQty > suggestions[j].SuggestedQty
	})

	resp := domain.ReorderSuggestionResponse{
		BranchID:    branchID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Suggestions: suggestions,
	}
	_ = e.cache.Set(ctx, cacheKey, &resp, e.cacheTTL)
	return resp
}

func buildCacheKey(branchID string) string {
	return "ventas:reorder:" + branchID
}
