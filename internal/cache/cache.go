package cache

import (
	"context"
	"time"

	"sufrah/backend/internal/domain"
)

// StockLevelCache fronts the branch stock-level listing. Entries are
// invalidated on every inventory mutation; the store stays authoritative.
type StockLevelCache interface {
	Get(ctx context.Context, branchID string) (*domain.StockLevelsResponse, bool, error)
	Set(ctx context.Context, branchID string, value *domain.StockLevelsResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, branchID string) error
}

type NoopStockLevelCache struct{}

func (NoopStockLevelCache) Get(_ context.Context, _ string) (*domain.StockLevelsResponse, bool, error) {
	return nil, false, nil
}

func (NoopStockLevelCache) Set(_ context.Context, _ string, _ *domain.StockLevelsResponse, _ time.Duration) error {
	return nil
}

func (NoopStockLevelCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
