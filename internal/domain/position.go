package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserProfile holds a user's fake-money balance. Version increases on every
// balance mutation.
type UserProfile struct {
	UserID    string
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Position is an immutable record of one executed trade.
type Position struct {
	ID            string
	UserID        string
	MarketID      string
	OptionID      string
	Outcome       string
	Quantity      int64
	PricePerShare decimal.Decimal
	TotalCost     decimal.Decimal
	CreatedAt     time.Time
}

// TradeRequest asks the ledger to buy Quantity shares of an option at its
// current probability. The price is never supplied by the caller.
type TradeRequest struct {
	UserID   string
	MarketID string
	OptionID string
	Quantity int64
}

// Portfolio summarizes a user's balance and positions.
type Portfolio struct {
	UserID        string
	Balance       decimal.Decimal
	TotalInvested decimal.Decimal
	Positions     []Position
}

// SharePrice converts a percentage probability into a per-share price in
// [0,1] with four decimal places.
func SharePrice(probability float64) decimal.Decimal {
	return decimal.NewFromFloat(RoundProbability(probability)).Div(decimal.NewFromInt(100)).Round(4)
}

// TradeCost returns quantity * price.
func TradeCost(quantity int64, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(quantity))
}
