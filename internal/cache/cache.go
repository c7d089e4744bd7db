package cache

import (
	"context"
	"time"

	"github.com/fydhel24/proyecto-ventas-sub001/internal/domain"
)

type ReorderCache interface {
	Get(ctx context.Context, key string) (*domain.ReorderSuggestionResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.ReorderSuggestionResponse, ttl time.Duration) error
}

type NoopReorderCache struct{}

func (NoopReorderCache) Get(_ context.Context, _ string) (*domain.ReorderSuggestionResponse, bool, error) {
	return nil, false, nil
}

func (NoopReorderCache) Set(_ context.Context, _ string, _ *domain.ReorderSuggestionResponse, _ time.Duration) error {
	return nil
}
