package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// TradeOptions tune trade settlement.
type TradeOptions struct {
	MaxQuantity     int64
	StartingBalance decimal.Decimal
	MaxRetries      int
	RetryBackoff    time.Duration
}

// TradeService validates trades, settles them against the ledger and reports
// user portfolios.
type TradeService struct {
	ledger domain.LedgerStore
	bus    domain.SignalBus
	audit  domain.AuditStore
	opts   TradeOptions
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewTradeService creates a TradeService with all required dependencies.
func NewTradeService(
	ledger domain.LedgerStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	opts TradeOptions,
	logger *slog.Logger,
) *TradeService {
	if opts.MaxQuantity <= 0 {
		opts.MaxQuantity = 10_000
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &TradeService{
		ledger: ledger,
		bus:    bus,
		audit:  audit,
		opts:   opts,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// EnsureProfile returns the user's profile, creating it with the configured
// starting balance on first use.
func (s *TradeService) EnsureProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	if userID == "" {
		return domain.UserProfile{}, fmt.Errorf("trade_service: %w", domain.ErrUnauthorized)
	}
	p, err := s.ledger.EnsureProfile(ctx, userID, s.opts.StartingBalance)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("trade_service: ensure profile %s: %w", userID, err)
	}
	return p, nil
}

// ExecuteTrade buys req.Quantity shares of an option at its current
// probability. Lost races are retried with linear backoff up to MaxRetries
// times; every other failure is returned unchanged in kind.
func (s *TradeService) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Position, error) {
	if req.Quantity <= 0 || req.Quantity > s.opts.MaxQuantity {
		return domain.Position{}, fmt.Errorf("trade_service: quantity %d not in 1..%d: %w",
			req.Quantity, s.opts.MaxQuantity, domain.ErrInvalidQuantity)
	}
	if req.UserID == "" {
		return domain.Position{}, fmt.Errorf("trade_service: %w", domain.ErrUnauthorized)
	}

	var (
		pos domain.Position
		err error
	)
	for attempt := 0; ; attempt++ {
		pos, err = s.ledger.ExecuteTrade(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrConcurrentUpdate) || attempt >= s.opts.MaxRetries {
			return domain.Position{}, fmt.Errorf("trade_service: execute: %w", err)
		}
		s.logger.DebugContext(ctx, "trade_service: retrying after concurrent update",
			slog.String("user_id", req.UserID),
			slog.Int("attempt", attempt+1),
		)
		if sleepErr := s.sleep(ctx, s.opts.RetryBackoff*time.Duration(attempt+1)); sleepErr != nil {
			return domain.Position{}, fmt.Errorf("trade_service: execute: %w", sleepErr)
		}
	}

	detail := map[string]any{
		"position_id": pos.ID,
		"user_id":     pos.UserID,
		"market_id":   pos.MarketID,
		"option_id":   pos.OptionID,
		"quantity":    pos.Quantity,
		"price":       pos.PricePerShare.String(),
		"total_cost":  pos.TotalCost.String(),
	}
	if err := s.audit.Log(ctx, "trade.executed", detail); err != nil {
		s.logger.WarnContext(ctx, "trade_service: audit log failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	publish(ctx, s.bus, s.logger, domain.ChannelTrades, domain.BusEvent{
		Type:     domain.EventTradeExecuted,
		MarketID: pos.MarketID,
		Data:     detail,
		At:       pos.CreatedAt,
	})

	s.logger.InfoContext(ctx, "trade_service: trade executed",
		slog.String("user_id", pos.UserID),
		slog.String("market_id", pos.MarketID),
		slog.String("outcome", pos.Outcome),
		slog.Int64("quantity", pos.Quantity),
		slog.String("total_cost", pos.TotalCost.StringFixed(2)),
	)
	return pos, nil
}

// Portfolio returns the user's balance, a page of positions (newest first)
// and the total invested across all positions.
func (s *TradeService) Portfolio(ctx context.Context, userID string, opts domain.ListOpts) (domain.Portfolio, error) {
	profile, err := s.ledger.GetProfile(ctx, userID)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("trade_service: portfolio: %w", err)
	}
	all, err := s.ledger.ListPositions(ctx, userID, domain.ListOpts{})
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("trade_service: list positions: %w", err)
	}

	total := decimal.Zero
	for _, p := range all {
		total = total.Add(p.TotalCost)
	}

	page := all
	if opts.Offset > 0 {
		if opts.Offset >= len(page) {
			page = nil
		} else {
			page = page[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(page) {
		page = page[:opts.Limit]
	}
	if page == nil {
		page = []domain.Position{}
	}

	return domain.Portfolio{
		UserID:        userID,
		Balance:       profile.Balance,
		TotalInvested: total,
		Positions:     page,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
