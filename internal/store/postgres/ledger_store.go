package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Trades lock the
// profile row for the duration of the transaction.
type LedgerStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool, lockTimeout: 2 * time.Second}
}

const profileColumns = `user_id, balance::text, version, created_at, updated_at`

// EnsureProfile creates the profile with startingBalance if it is missing and
// returns the stored row.
func (s *LedgerStore) EnsureProfile(ctx context.Context, userID string, startingBalance decimal.Decimal) (domain.UserProfile, error) {
	if userID == "" {
		return domain.UserProfile{}, fmt.Errorf("postgres: ensure profile: empty user id")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, startingBalance.String(),
	); err != nil {
		return domain.UserProfile{}, fmt.Errorf("postgres: ensure profile %s: %w", userID, err)
	}
	return s.GetProfile(ctx, userID)
}

// GetProfile returns a user's profile.
func (s *LedgerStore) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	p, err := scanProfile(s.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{}, fmt.Errorf("postgres: user %s: %w", userID, domain.ErrProfileNotFound)
		}
		return domain.UserProfile{}, fmt.Errorf("postgres: get profile %s: %w", userID, err)
	}
	return p, nil
}

// ExecuteTrade reads the option price, checks and debits the balance, and
// inserts the position in one transaction.
func (s *LedgerStore) ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Position, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin trade: %w", conflict(err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if s.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: set lock timeout: %w", err)
		}
	}

	var (
		optMarketID string
		outcome     string
		probability float64
	)
	err = tx.QueryRow(ctx,
		`SELECT market_id, title, current_probability::float8 FROM market_options WHERE id = $1`,
		req.OptionID,
	).Scan(&optMarketID, &outcome, &probability)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: trade option %s: %w", req.OptionID, conflict(notFound(err)))
	}
	if optMarketID != req.MarketID {
		return domain.Position{}, fmt.Errorf("postgres: option %s in market %s: %w", req.OptionID, req.MarketID, domain.ErrOptionNotInMarket)
	}

	profile, err := scanProfile(tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1 FOR UPDATE`,
		req.UserID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: user %s: %w", req.UserID, domain.ErrProfileNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: lock profile %s: %w", req.UserID, conflict(err))
	}

	price := domain.SharePrice(probability)
	cost := domain.TradeCost(req.Quantity, price)
	if cost.GreaterThan(profile.Balance) {
		return domain.Position{}, fmt.Errorf("postgres: cost %s exceeds balance %s: %w", cost.StringFixed(2), profile.Balance.StringFixed(2), domain.ErrInsufficientBalance)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE profiles SET balance = $2, version = version + 1, updated_at = $3 WHERE user_id = $1`,
		req.UserID, profile.Balance.Sub(cost).String(), now,
	); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: debit %s: %w", req.UserID, conflict(err))
	}

	pos := domain.Position{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		MarketID:      req.MarketID,
		OptionID:      req.OptionID,
		Outcome:       outcome,
		Quantity:      req.Quantity,
		PricePerShare: price,
		TotalCost:     cost,
		CreatedAt:     now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO positions (id, user_id, market_id, option_id, outcome, quantity, price_per_share, total_cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pos.ID, pos.UserID, pos.MarketID, pos.OptionID, pos.Outcome,
		pos.Quantity, pos.PricePerShare.String(), pos.TotalCost.String(), pos.CreatedAt,
	); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: insert position: %w", conflict(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit trade: %w", conflict(err))
	}
	committed = true
	return pos, nil
}

// ListPositions returns a user's positions, newest first.
func (s *LedgerStore) ListPositions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `
		SELECT id, user_id, market_id, option_id, outcome, quantity,
		       price_per_share::text, total_cost::text, created_at
		FROM positions WHERE user_id = $1`
	args := []any{userID}
	query, args = appendTimeRange(query, args, "created_at", opts)
	query += " ORDER BY created_at DESC, id"
	query, args = appendPaging(query, args, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p           domain.Position
			price, cost string
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.MarketID, &p.OptionID, &p.Outcome, &p.Quantity, &price, &cost, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		if p.PricePerShare, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("postgres: parse price_per_share: %w", err)
		}
		if p.TotalCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("postgres: parse total_cost: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

// conflict wraps lost-race errors with domain.ErrConcurrentUpdate.
func conflict(err error) error {
	if isConcurrencyConflict(err) {
		return fmt.Errorf("%w: %w", domain.ErrConcurrentUpdate, err)
	}
	return err
}

func scanProfile(row pgx.Row) (domain.UserProfile, error) {
	var (
		p       domain.UserProfile
		balance string
	)
	if err := row.Scan(&p.UserID, &balance, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.UserProfile{}, err
	}
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("parse balance: %w", err)
	}
	p.Balance = b
	return p, nil
}
