package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// Listing bounds.
const (
	defaultMarketLimit = 50
	maxMarketLimit     = 200
)

// MarketService serves catalog reads, checking the market cache before the
// store.
type MarketService struct {
	catalog domain.CatalogStore
	cache   domain.MarketCache
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache may be nil.
func NewMarketService(
	catalog domain.CatalogStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		catalog: catalog,
		cache:   cache,
		logger:  logger,
	}
}

// GetMarket retrieves a market with its ordered options, checking the cache
// first and falling back to the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.MarketWithOptions, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.catalog.GetMarket(ctx, id)
	if err != nil {
		return domain.MarketWithOptions{}, fmt.Errorf("market_service: get %q: %w", id, err)
	}
	opts, err := s.catalog.GetOptionsForMarket(ctx, id)
	if err != nil {
		return domain.MarketWithOptions{}, fmt.Errorf("market_service: options for %q: %w", id, err)
	}
	full := domain.MarketWithOptions{Market: m, Options: opts}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, full); cacheErr != nil {
			s.logger.WarnContext(ctx, "market_service: cache set failed",
				slog.String("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return full, nil
}

// ListMarkets returns a page of markets with their options, and the total
// matching count. An empty status filter means active markets only.
func (s *MarketService) ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.MarketWithOptions, int64, error) {
	if f.Status == "" {
		f.Status = domain.MarketStatusActive
	}
	if f.Limit <= 0 {
		f.Limit = defaultMarketLimit
	}
	if f.Limit > maxMarketLimit {
		f.Limit = maxMarketLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	markets, err := s.catalog.ListMarkets(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service: list: %w", err)
	}
	total, err := s.catalog.CountMarkets(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("market_service: count: %w", err)
	}

	out := make([]domain.MarketWithOptions, 0, len(markets))
	for _, m := range markets {
		full, err := s.GetMarket(ctx, m.ID)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, full)
	}
	return out, total, nil
}
