package handler

import (
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

type optionView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ExternalID  string    `json:"external_id,omitempty"`
	Probability float64   `json:"probability"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type marketView struct {
	ID          string       `json:"id"`
	ExternalID  string       `json:"external_id"`
	Source      string       `json:"source"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Category    string       `json:"category"`
	Icon        string       `json:"icon"`
	Status      string       `json:"status"`
	Binary      bool         `json:"binary"`
	Options     []optionView `json:"options"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func toMarketView(m domain.MarketWithOptions) marketView {
	v := marketView{
		ID:          m.ID,
		ExternalID:  m.ExternalID,
		Source:      m.Source,
		Title:       m.Title,
		Description: m.Description,
		Category:    m.Category,
		Icon:        m.Icon,
		Status:      string(m.Status),
		Binary:      domain.IsBinary(m.Options),
		Options:     make([]optionView, 0, len(m.Options)),
		UpdatedAt:   m.UpdatedAt,
	}
	for _, o := range m.Options {
		v.Options = append(v.Options, optionView{
			ID:          o.ID,
			Title:       o.Title,
			ExternalID:  o.ExternalID,
			Probability: o.CurrentProbability,
			UpdatedAt:   o.UpdatedAt,
		})
	}
	return v
}

type positionView struct {
	ID            string    `json:"id"`
	MarketID      string    `json:"market_id"`
	OptionID      string    `json:"option_id"`
	Outcome       string    `json:"outcome"`
	Quantity      int64     `json:"quantity"`
	PricePerShare string    `json:"price_per_share"`
	TotalCost     string    `json:"total_cost"`
	CreatedAt     time.Time `json:"created_at"`
}

func toPositionView(p domain.Position) positionView {
	return positionView{
		ID:            p.ID,
		MarketID:      p.MarketID,
		OptionID:      p.OptionID,
		Outcome:       p.Outcome,
		Quantity:      p.Quantity,
		PricePerShare: p.PricePerShare.StringFixed(4),
		TotalCost:     p.TotalCost.StringFixed(2),
		CreatedAt:     p.CreatedAt,
	}
}

type portfolioView struct {
	UserID        string         `json:"user_id"`
	Balance       string         `json:"balance"`
	TotalInvested string         `json:"total_invested"`
	Positions     []positionView `json:"positions"`
}

func toPortfolioView(p domain.Portfolio) portfolioView {
	v := portfolioView{
		UserID:        p.UserID,
		Balance:       p.Balance.StringFixed(2),
		TotalInvested: p.TotalInvested.StringFixed(2),
		Positions:     make([]positionView, 0, len(p.Positions)),
	}
	for _, pos := range p.Positions {
		v.Positions = append(v.Positions, toPositionView(pos))
	}
	return v
}

type syncResultView struct {
	Source         string   `json:"source,omitempty"`
	MarketsSynced  int      `json:"markets_synced"`
	HistoryRecords int      `json:"history_records"`
	SeriesSkipped  int      `json:"series_skipped"`
	MarketIDs      []string `json:"market_ids,omitempty"`
	HistoryError   string   `json:"history_error,omitempty"`
}

func toSyncResultView(r domain.SyncResult) syncResultView {
	v := syncResultView{
		Source:         r.Source,
		MarketsSynced:  r.MarketsSynced,
		HistoryRecords: r.HistoryRecords,
		SeriesSkipped:  r.SeriesSkipped,
		MarketIDs:      r.MarketIDs,
	}
	if r.HistoryError != nil {
		v.HistoryError = "history not recorded"
	}
	return v
}
