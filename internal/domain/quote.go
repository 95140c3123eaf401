package domain

import (
	"context"
	"strings"
)

// Quote statuses reported by sources.
const (
	QuoteStatusOpen    = "open"
	QuoteStatusClosed  = "closed"
	QuoteStatusSettled = "settled"
)

// NormalizedQuote is one externally priced outcome. Quotes sharing a
// SeriesID form one local market. YesPrice is a percentage in [0,100];
// Estimated marks a price substituted because the source sent none.
type NormalizedQuote struct {
	Source      string
	SeriesID    string
	SeriesTitle string
	OptionID    string
	Title       string
	Subtitle    string
	Category    string
	YesPrice    float64
	Estimated   bool
	Status      string
}

// NeutralPrice is used when a quote carries no price signal at all.
const NeutralPrice = 50.0

// Closed reports whether the quote is no longer tradable upstream.
func (q NormalizedQuote) Closed() bool {
	s := strings.ToLower(q.Status)
	return s == QuoteStatusClosed || s == QuoteStatusSettled || s == "finalized" || s == "resolved"
}

// ScopeKind selects which upstream markets a sync pass fetches.
type ScopeKind string

const (
	ScopeAllOpen ScopeKind = "all"
	ScopeCatalog ScopeKind = "catalog"
)

// SyncScope bounds a sync pass. SeriesIDs is only used with ScopeCatalog.
type SyncScope struct {
	Kind      ScopeKind
	SeriesIDs []string
}

// QuoteSource fetches normalized quotes from one external provider.
type QuoteSource interface {
	Name() string
	FetchQuotes(ctx context.Context, scope SyncScope) ([]NormalizedQuote, error)
}

// PreviewOutcome is one outcome shown before a series is added.
type PreviewOutcome struct {
	Ticker   string  `json:"ticker"`
	Title    string  `json:"title"`
	Subtitle string  `json:"subtitle"`
	YesPrice float64 `json:"yes_price"`
	NoPrice  float64 `json:"no_price"`
	Status   string  `json:"status"`
}

// Preview describes an upstream series that has not been added yet.
type Preview struct {
	Source       string           `json:"source"`
	SeriesTicker string           `json:"series_ticker"`
	Title        string           `json:"title"`
	Category     string           `json:"category"`
	Markets      []PreviewOutcome `json:"markets"`
}

// Previewer resolves a URL or external id to a series preview and its quotes.
type Previewer interface {
	Preview(ctx context.Context, urlOrID string) (Preview, []NormalizedQuote, error)
}
