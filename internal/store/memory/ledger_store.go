package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// OptionReader is the slice of the catalog the ledger needs.
type OptionReader interface {
	GetOption(ctx context.Context, id string) (domain.MarketOption, error)
}

// LedgerStore implements domain.LedgerStore with optimistic concurrency:
// a trade validates against a profile snapshot and commits only if the
// profile version is unchanged.
type LedgerStore struct {
	catalog OptionReader

	mu        sync.Mutex
	profiles  map[string]domain.UserProfile
	positions map[string][]domain.Position

	// beforeCommit runs between validation and commit. Tests use it to
	// force a lost race.
	beforeCommit func()
}

// NewLedgerStore creates a LedgerStore that prices trades from catalog.
func NewLedgerStore(catalog OptionReader) *LedgerStore {
	return &LedgerStore{
		catalog:   catalog,
		profiles:  make(map[string]domain.UserProfile),
		positions: make(map[string][]domain.Position),
	}
}

// EnsureProfile returns the user's profile, creating it with
// startingBalance when absent.
func (s *LedgerStore) EnsureProfile(_ context.Context, userID string, startingBalance decimal.Decimal) (domain.UserProfile, error) {
	if userID == "" {
		return domain.UserProfile{}, fmt.Errorf("memory: ensure profile: empty user id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	now := time.Now().UTC()
	p := domain.UserProfile{
		UserID:    userID,
		Balance:   startingBalance,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.profiles[userID] = p
	return p, nil
}

// GetProfile returns the user's profile.
func (s *LedgerStore) GetProfile(_ context.Context, userID string) (domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domain.UserProfile{}, fmt.Errorf("memory: user %s: %w", userID, domain.ErrProfileNotFound)
	}
	return p, nil
}

// ExecuteTrade debits the user and records a position, or changes nothing.
func (s *LedgerStore) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Position, error) {
	opt, err := s.catalog.GetOption(ctx, req.OptionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("memory: execute trade: %w", err)
	}
	if opt.MarketID != req.MarketID {
		return domain.Position{}, fmt.Errorf("memory: option %s in market %s: %w", req.OptionID, req.MarketID, domain.ErrOptionNotInMarket)
	}

	snap, err := s.GetProfile(ctx, req.UserID)
	if err != nil {
		return domain.Position{}, err
	}

	price := domain.SharePrice(opt.CurrentProbability)
	cost := domain.TradeCost(req.Quantity, price)
	if cost.GreaterThan(snap.Balance) {
		return domain.Position{}, fmt.Errorf("memory: cost %s exceeds balance %s: %w", cost.StringFixed(2), snap.Balance.StringFixed(2), domain.ErrInsufficientBalance)
	}

	if s.beforeCommit != nil {
		s.beforeCommit()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.profiles[req.UserID]
	if cur.Version != snap.Version {
		return domain.Position{}, fmt.Errorf("memory: profile %s version %d != %d: %w", req.UserID, cur.Version, snap.Version, domain.ErrConcurrentUpdate)
	}

	now := time.Now().UTC()
	cur.Balance = cur.Balance.Sub(cost)
	cur.Version++
	cur.UpdatedAt = now
	s.profiles[req.UserID] = cur

	pos := domain.Position{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		MarketID:      req.MarketID,
		OptionID:      req.OptionID,
		Outcome:       opt.Title,
		Quantity:      req.Quantity,
		PricePerShare: price,
		TotalCost:     cost,
		CreatedAt:     now,
	}
	s.positions[req.UserID] = append(s.positions[req.UserID], pos)
	return pos, nil
}

// ListPositions returns the user's positions, newest first.
func (s *LedgerStore) ListPositions(_ context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	s.mu.Lock()
	src := s.positions[userID]
	out := make([]domain.Position, len(src))
	copy(out, src)
	s.mu.Unlock()

	// Positions are appended in commit order; reverse for newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.Position{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}
