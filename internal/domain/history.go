package domain

import "time"

// ProbabilityRecord is one append-only history row.
type ProbabilityRecord struct {
	ID          string
	MarketID    string
	OptionID    string
	Probability float64
	RecordedAt  time.Time
}

// HistoryQuery selects a market's history in ascending recorded_at order.
type HistoryQuery struct {
	MarketID string
	Since    *time.Time
	Limit    int
}

// ChartPoint groups the probabilities recorded at the same instant, keyed by
// option title.
type ChartPoint struct {
	RecordedAt time.Time          `json:"recorded_at"`
	Values     map[string]float64 `json:"values"`
	Synthetic  bool               `json:"synthetic,omitempty"`
}

// SyncRequest selects the source and scope of a sync pass.
type SyncRequest struct {
	Source string
	Scope  SyncScope
}

// SyncResult summarizes one reconciliation pass.
type SyncResult struct {
	Source         string   `json:"source"`
	MarketsSynced  int      `json:"markets_synced"`
	HistoryRecords int      `json:"history_records"`
	SeriesSkipped  int      `json:"series_skipped"`
	MarketIDs      []string `json:"market_ids,omitempty"`
	HistoryError   error    `json:"-"`
}
