// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage driver and doubles as the test fake for the
// service layer.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// CatalogStore implements domain.CatalogStore.
type CatalogStore struct {
	mu         sync.RWMutex
	markets    map[string]domain.Market
	byExternal map[string]string
	options    map[string]domain.MarketOption
	byMarket   map[string][]string // option ids in insertion order
	optByExt   map[string]string
	now        func() time.Time
}

// NewCatalogStore creates an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		markets:    make(map[string]domain.Market),
		byExternal: make(map[string]string),
		options:    make(map[string]domain.MarketOption),
		byMarket:   make(map[string][]string),
		optByExt:   make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// UpsertMarket inserts or updates the market keyed on ExternalID.
func (s *CatalogStore) UpsertMarket(_ context.Context, u domain.MarketUpsert) (domain.Market, error) {
	if u.ExternalID == "" {
		return domain.Market{}, fmt.Errorf("memory: upsert market: empty external id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byExternal[u.ExternalID]; ok {
		m := s.markets[id]
		m.Source = u.Source
		m.Title = u.Title
		m.Description = u.Description
		m.Category = u.Category
		m.Icon = u.Icon
		m.Status = u.Status
		m.UpdatedAt = now
		s.markets[id] = m
		return m, nil
	}

	m := domain.Market{
		ID:          uuid.NewString(),
		ExternalID:  u.ExternalID,
		Source:      u.Source,
		Title:       u.Title,
		Description: u.Description,
		Category:    u.Category,
		Icon:        u.Icon,
		Status:      u.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.markets[m.ID] = m
	s.byExternal[m.ExternalID] = m.ID
	return m, nil
}

// UpsertOption inserts or updates an option. The created/changed decision is
// made under the store lock together with the write.
func (s *CatalogStore) UpsertOption(_ context.Context, u domain.OptionUpsert) (domain.OptionWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[u.MarketID]; !ok {
		return domain.OptionWrite{}, fmt.Errorf("memory: upsert option for market %s: %w", u.MarketID, domain.ErrNotFound)
	}

	p := domain.RoundProbability(u.Probability)
	now := s.now()

	if id, ok := s.findOption(u); ok {
		o := s.options[id]
		if o.ExternalID == "" && u.ExternalID != "" {
			o.ExternalID = u.ExternalID
			o.UpdatedAt = now
			s.options[id] = o
			s.optByExt[o.ExternalID] = id
		}
		prev := o.CurrentProbability
		if u.InsertOnly || !domain.ProbabilityChanged(prev, p) {
			return domain.OptionWrite{Option: o, Previous: prev}, nil
		}
		o.CurrentProbability = p
		o.UpdatedAt = now
		s.options[id] = o
		return domain.OptionWrite{Option: o, Changed: true, Previous: prev}, nil
	}

	o := domain.MarketOption{
		ID:                 uuid.NewString(),
		MarketID:           u.MarketID,
		Title:              u.Title,
		ExternalID:         u.ExternalID,
		CurrentProbability: p,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.options[o.ID] = o
	s.byMarket[o.MarketID] = append(s.byMarket[o.MarketID], o.ID)
	if o.ExternalID != "" {
		s.optByExt[o.ExternalID] = o.ID
	}
	return domain.OptionWrite{Option: o, Created: true}, nil
}

// findOption resolves an upsert to an existing option id. Caller holds mu.
func (s *CatalogStore) findOption(u domain.OptionUpsert) (string, bool) {
	if u.ExternalID != "" {
		if id, ok := s.optByExt[u.ExternalID]; ok {
			return id, true
		}
	}
	for _, id := range s.byMarket[u.MarketID] {
		o := s.options[id]
		if o.Title == u.Title && (o.ExternalID == "" || u.ExternalID == "" || o.ExternalID == u.ExternalID) {
			return id, true
		}
	}
	return "", false
}

// GetMarket returns a market by its local id.
func (s *CatalogStore) GetMarket(_ context.Context, id string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// GetMarketByExternalID returns a market by its provider key.
func (s *CatalogStore) GetMarketByExternalID(_ context.Context, externalID string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: market external %s: %w", externalID, domain.ErrNotFound)
	}
	return s.markets[id], nil
}

// GetOptionsForMarket returns a market's options in display order.
func (s *CatalogStore) GetOptionsForMarket(_ context.Context, marketID string) ([]domain.MarketOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.markets[marketID]; !ok {
		return nil, fmt.Errorf("memory: options for market %s: %w", marketID, domain.ErrNotFound)
	}
	ids := s.byMarket[marketID]
	out := make([]domain.MarketOption, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.options[id])
	}
	domain.SortOptions(out)
	return out, nil
}

// GetOption returns an option by id.
func (s *CatalogStore) GetOption(_ context.Context, id string) (domain.MarketOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.options[id]
	if !ok {
		return domain.MarketOption{}, fmt.Errorf("memory: option %s: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

// ListMarkets returns markets matching f, most recently created first.
func (s *CatalogStore) ListMarkets(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	s.mu.RLock()
	all := s.filter(f)
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if f.Offset > 0 {
		if f.Offset >= len(all) {
			return []domain.Market{}, nil
		}
		all = all[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, nil
}

// CountMarkets returns the number of markets matching f, ignoring pagination.
func (s *CatalogStore) CountMarkets(_ context.Context, f domain.MarketFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.filter(f))), nil
}

// filter returns matching markets. Caller holds mu.
func (s *CatalogStore) filter(f domain.MarketFilter) []domain.Market {
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Category != "" && !strings.EqualFold(m.Category, f.Category) {
			continue
		}
		if f.Source != "" && m.Source != f.Source {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ListExternalIDs returns the provider keys of every market from source.
func (s *CatalogStore) ListExternalIDs(_ context.Context, source string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for ext, id := range s.byExternal {
		if source == "" || s.markets[id].Source == source {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out, nil
}
