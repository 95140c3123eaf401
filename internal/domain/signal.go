package domain

import "time"

// Bus channels.
const (
	ChannelProbability = "ch:probability"
	ChannelSync        = "ch:sync"
	ChannelTrades      = "ch:trades"
	StreamSync         = "stream:sync"
)

// Event types carried on the bus.
const (
	EventProbabilityUpdated = "probability_updated"
	EventSyncCompleted      = "sync_completed"
	EventSyncFailed         = "sync_failed"
	EventTradeExecuted      = "trade_executed"
)

// BusEvent is the JSON envelope published on every channel.
type BusEvent struct {
	Type     string         `json:"type"`
	MarketID string         `json:"market_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	At       time.Time      `json:"at"`
}

// SyncLogEntry is one pass outcome read back from StreamSync. ID is the
// stream cursor; pass it as the next read's starting point.
type SyncLogEntry struct {
	ID    string   `json:"id"`
	Event BusEvent `json:"event"`
}
