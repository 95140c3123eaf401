package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

func TestChartSyntheticPointWhenEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m, _ := f.catalog.UpsertMarket(ctx, domain.MarketUpsert{ExternalID: "A", Source: "kalshi", Title: "A", Status: domain.MarketStatusActive})
	f.catalog.UpsertOption(ctx, domain.OptionUpsert{MarketID: m.ID, Title: domain.OptionYes, Probability: 70})
	f.catalog.UpsertOption(ctx, domain.OptionUpsert{MarketID: m.ID, Title: domain.OptionNo, Probability: 30})

	svc := NewHistoryService(f.catalog, f.history)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	points, err := svc.Chart(ctx, m.ID, nil, 0)
	if err != nil {
		t.Fatalf("Chart: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("len(points) = %d, want 1", len(points))
	}
	p := points[0]
	if !p.Synthetic || !p.RecordedAt.Equal(fixed) {
		t.Errorf("point = %+v, want synthetic at %s", p, fixed)
	}
	if p.Values[domain.OptionYes] != 70 || p.Values[domain.OptionNo] != 30 {
		t.Errorf("values = %v", p.Values)
	}

	recs, _ := f.history.Query(ctx, domain.HistoryQuery{MarketID: m.ID})
	if len(recs) != 0 {
		t.Errorf("synthetic point persisted: %d records", len(recs))
	}
}

func TestChartGroupsBySyncPass(t *testing.T) {
	f := newFixture(t)
	f.source.set(quote("A", "A", "", 40))
	f.run(t)
	f.source.set(quote("A", "A", "", 45))
	f.run(t)

	m, _ := f.catalog.GetMarketByExternalID(context.Background(), "A")
	svc := NewHistoryService(f.catalog, f.history)
	points, err := svc.Chart(context.Background(), m.ID, nil, 0)
	if err != nil {
		t.Fatalf("Chart: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("len(points) = %d, want 2", len(points))
	}
	if points[0].Values[domain.OptionYes] != 40 || points[1].Values[domain.OptionYes] != 45 {
		t.Errorf("points = %+v", points)
	}
	if points[1].Values[domain.OptionNo] != 55 {
		t.Errorf("No = %v, want 55", points[1].Values[domain.OptionNo])
	}
	if points[0].Synthetic {
		t.Error("recorded point marked synthetic")
	}
}

func TestChartUnknownMarket(t *testing.T) {
	f := newFixture(t)
	svc := NewHistoryService(f.catalog, f.history)
	if _, err := svc.Chart(context.Background(), "missing", nil, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// mapCache is an in-memory domain.MarketCache.
type mapCache struct {
	mu   sync.Mutex
	data map[string]domain.MarketWithOptions
	sets int
}

func (c *mapCache) Set(_ context.Context, m domain.MarketWithOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[m.ID] = m
	c.sets++
	return nil
}

func (c *mapCache) Get(_ context.Context, id string) (domain.MarketWithOptions, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.data[id]
	if !ok {
		return domain.MarketWithOptions{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *mapCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.data, id)
	}
	return nil
}

func TestMarketServiceCachesAndSyncInvalidates(t *testing.T) {
	f := newFixture(t)
	cache := &mapCache{data: map[string]domain.MarketWithOptions{}}
	f.sync.cache = cache
	f.source.set(quote("A", "A", "", 40))
	res := f.run(t)
	id := res.MarketIDs[0]

	svc := NewMarketService(f.catalog, cache, discardLogger())
	ctx := context.Background()
	if _, err := svc.GetMarket(ctx, id); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if _, err := svc.GetMarket(ctx, id); err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}

	f.source.set(quote("A", "A", "", 55))
	f.run(t)
	m, err := svc.GetMarket(ctx, id)
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if m.Options[0].CurrentProbability != 55 {
		t.Errorf("stale cache: Yes = %v, want 55", m.Options[0].CurrentProbability)
	}
}

func TestListMarketsDefaultsToActive(t *testing.T) {
	f := newFixture(t)
	closed := quote("B", "B", "", 10)
	closed.Status = "closed"
	f.source.set(quote("A", "A", "", 40), closed)
	f.run(t)

	svc := NewMarketService(f.catalog, nil, discardLogger())
	markets, total, err := svc.ListMarkets(context.Background(), domain.MarketFilter{})
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if total != 1 || len(markets) != 1 || markets[0].ExternalID != "A" {
		t.Errorf("markets = %+v (total %d), want only A", markets, total)
	}
	if len(markets[0].Options) != 2 {
		t.Errorf("options = %d, want 2", len(markets[0].Options))
	}
}
