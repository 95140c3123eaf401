package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// CatalogStore persists markets and their options.
type CatalogStore interface {
	UpsertMarket(ctx context.Context, m MarketUpsert) (Market, error)
	UpsertOption(ctx context.Context, o OptionUpsert) (OptionWrite, error)
	GetMarket(ctx context.Context, id string) (Market, error)
	GetMarketByExternalID(ctx context.Context, externalID string) (Market, error)
	GetOptionsForMarket(ctx context.Context, marketID string) ([]MarketOption, error)
	GetOption(ctx context.Context, id string) (MarketOption, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]Market, error)
	CountMarkets(ctx context.Context, f MarketFilter) (int64, error)
	ListExternalIDs(ctx context.Context, source string) ([]string, error)
}

// HistoryStore persists the append-only probability history.
type HistoryStore interface {
	Append(ctx context.Context, records []ProbabilityRecord) error
	Query(ctx context.Context, q HistoryQuery) ([]ProbabilityRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ProbabilityRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// LedgerStore persists balances and positions. ExecuteTrade performs the
// option lookup, balance check, debit and position insert as one unit and
// returns ErrConcurrentUpdate when that unit lost a race.
type LedgerStore interface {
	EnsureProfile(ctx context.Context, userID string, startingBalance decimal.Decimal) (UserProfile, error)
	GetProfile(ctx context.Context, userID string) (UserProfile, error)
	ExecuteTrade(ctx context.Context, req TradeRequest) (Position, error)
	ListPositions(ctx context.Context, userID string, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
