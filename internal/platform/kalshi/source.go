package kalshi

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// SourceName identifies Kalshi quotes and markets.
const SourceName = "kalshi"

// SourceOptions tune pagination.
type SourceOptions struct {
	PageLimit int
	MaxPages  int
}

// Source implements domain.QuoteSource and domain.Previewer for Kalshi.
// Markets sharing an event ticker are grouped into one series.
type Source struct {
	client *Client
	opts   SourceOptions
	logger *slog.Logger
}

// NewSource creates a Kalshi quote source.
func NewSource(client *Client, opts SourceOptions, logger *slog.Logger) *Source {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}
	return &Source{client: client, opts: opts, logger: logger}
}

// Name returns the source identifier.
func (s *Source) Name() string { return SourceName }

// FetchQuotes returns normalized quotes for every open market, or for the
// series already in the catalog when scope.Kind is ScopeCatalog.
func (s *Source) FetchQuotes(ctx context.Context, scope domain.SyncScope) ([]domain.NormalizedQuote, error) {
	if scope.Kind == domain.ScopeCatalog {
		return s.fetchSeries(ctx, scope.SeriesIDs)
	}

	var (
		quotes []domain.NormalizedQuote
		cursor string
	)
	for page := 0; page < s.opts.MaxPages; page++ {
		resp, err := s.client.GetMarkets(ctx, GetMarketsOptions{
			Limit:  s.opts.PageLimit,
			Cursor: cursor,
			Status: "open",
		})
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Markets {
			quotes = append(quotes, normalize(m, seriesID(m)))
		}
		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}
	return quotes, nil
}

// fetchSeries loads each id as an event ticker, falling back to a series
// ticker, so markets added by URL refresh as well as synced events.
func (s *Source) fetchSeries(ctx context.Context, ids []string) ([]domain.NormalizedQuote, error) {
	var quotes []domain.NormalizedQuote
	for _, id := range ids {
		markets, err := s.marketsFor(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(markets) == 0 {
			s.logger.WarnContext(ctx, "kalshi: catalog series not found upstream", slog.String("series", id))
			continue
		}
		for _, m := range markets {
			quotes = append(quotes, normalize(m, id))
		}
	}
	return quotes, nil
}

// marketsFor resolves id as an event ticker, then a series ticker, then a
// single market ticker.
func (s *Source) marketsFor(ctx context.Context, id string) ([]Market, error) {
	resp, err := s.client.GetMarkets(ctx, GetMarketsOptions{EventTicker: id, Limit: s.opts.PageLimit})
	if err != nil {
		return nil, err
	}
	if len(resp.Markets) > 0 {
		return resp.Markets, nil
	}

	resp, err = s.client.GetMarkets(ctx, GetMarketsOptions{SeriesTicker: id, Limit: s.opts.PageLimit})
	if err != nil {
		return nil, err
	}
	if len(resp.Markets) > 0 {
		return resp.Markets, nil
	}

	m, err := s.client.GetMarket(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return []Market{m}, nil
}

var marketURLPattern = regexp.MustCompile(`(?i)markets/([A-Z0-9-]+)`)
var tickerPattern = regexp.MustCompile(`(?i)^[A-Z0-9-]+$`)

// ParseReference extracts a ticker from a kalshi.com market URL or accepts a
// bare ticker. The result is upper-cased.
func ParseReference(urlOrTicker string) (string, error) {
	ref := strings.TrimSpace(urlOrTicker)
	if m := marketURLPattern.FindStringSubmatch(ref); m != nil {
		return strings.ToUpper(m[1]), nil
	}
	if tickerPattern.MatchString(ref) {
		return strings.ToUpper(ref), nil
	}
	return "", fmt.Errorf("kalshi: unrecognized market reference %q: %w", urlOrTicker, domain.ErrMalformedQuote)
}

// Preview resolves a URL or ticker to the outcomes that adding it would
// create, together with the quotes to reconcile.
func (s *Source) Preview(ctx context.Context, urlOrTicker string) (domain.Preview, []domain.NormalizedQuote, error) {
	ticker, err := ParseReference(urlOrTicker)
	if err != nil {
		return domain.Preview{}, nil, err
	}

	markets, err := s.marketsFor(ctx, ticker)
	if err != nil {
		return domain.Preview{}, nil, err
	}
	if len(markets) == 0 {
		return domain.Preview{}, nil, fmt.Errorf("kalshi: no markets for %s: %w", ticker, domain.ErrNotFound)
	}

	p := domain.Preview{
		Source:       SourceName,
		SeriesTicker: ticker,
		Title:        markets[0].Title,
		Category:     markets[0].Category,
	}
	quotes := make([]domain.NormalizedQuote, 0, len(markets))
	for _, m := range markets {
		yes := previewPrice(m)
		p.Markets = append(p.Markets, domain.PreviewOutcome{
			Ticker:   m.Ticker,
			Title:    m.Title,
			Subtitle: optionTitle(m),
			YesPrice: yes,
			NoPrice:  domain.Complement(yes),
			Status:   m.Status,
		})
		quotes = append(quotes, normalize(m, ticker))
	}
	return p, quotes, nil
}

// previewPrice shows the ask a buyer would pay, then the last trade, then
// the neutral price.
func previewPrice(m Market) float64 {
	if v, ok := cents(m.YesAsk, m.YesAskDollars); ok {
		return domain.RoundProbability(v)
	}
	if v, ok := cents(m.LastPrice, m.LastPriceDollars); ok {
		return domain.RoundProbability(v)
	}
	return domain.NeutralPrice
}

func seriesID(m Market) string {
	if m.EventTicker != "" {
		return m.EventTicker
	}
	return m.Ticker
}

func optionTitle(m Market) string {
	switch {
	case m.Subtitle != "":
		return m.Subtitle
	case m.YesSubTitle != "":
		return m.YesSubTitle
	default:
		return m.Ticker
	}
}

// normalize converts a Kalshi market into a quote belonging to series.
func normalize(m Market, series string) domain.NormalizedQuote {
	price, estimated := yesPrice(m)
	return domain.NormalizedQuote{
		Source:      SourceName,
		SeriesID:    series,
		SeriesTitle: m.Title,
		OptionID:    m.Ticker,
		Title:       m.Title,
		Subtitle:    optionTitle(m),
		Category:    m.Category,
		YesPrice:    price,
		Estimated:   estimated,
		Status:      m.Status,
	}
}

// yesPrice picks the best available probability: last trade, bid/ask
// midpoint, previous trade, then a one-sided quote. Without any signal it
// returns the neutral price and estimated=true.
func yesPrice(m Market) (float64, bool) {
	if v, ok := cents(m.LastPrice, m.LastPriceDollars); ok {
		return domain.RoundProbability(v), false
	}
	bid, hasBid := cents(m.YesBid, m.YesBidDollars)
	ask, hasAsk := cents(m.YesAsk, m.YesAskDollars)
	if hasBid && hasAsk {
		return domain.RoundProbability((bid + ask) / 2), false
	}
	if v, ok := cents(m.PreviousPrice, m.PreviousPriceDollars); ok {
		return domain.RoundProbability(v), false
	}
	if hasAsk {
		return domain.RoundProbability(ask), false
	}
	if hasBid {
		return domain.RoundProbability(bid), false
	}
	return domain.NeutralPrice, true
}

// cents returns a price in cents from the integer field, or from the dollar
// string when the integer is zero. Zero means no price.
func cents(c int, dollars string) (float64, bool) {
	if c > 0 {
		return float64(c), true
	}
	if dollars == "" {
		return 0, false
	}
	d, err := strconv.ParseFloat(dollars, 64)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d * 100, true
}

var (
	_ domain.QuoteSource = (*Source)(nil)
	_ domain.Previewer   = (*Source)(nil)
)
