package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// SourceName identifies Polymarket quotes and markets.
const SourceName = "polymarket"

// SourceOptions tune pagination.
type SourceOptions struct {
	PageLimit int
	MaxPages  int
}

// Source implements domain.QuoteSource and domain.Previewer for Polymarket.
// A Gamma event is a series; each of its markets is one quote.
type Source struct {
	gamma  *GammaClient
	opts   SourceOptions
	logger *slog.Logger
}

// NewSource creates a Polymarket quote source.
func NewSource(gamma *GammaClient, opts SourceOptions, logger *slog.Logger) *Source {
	if opts.PageLimit <= 0 {
		opts.PageLimit = 100
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	return &Source{gamma: gamma, opts: opts, logger: logger}
}

// Name returns the source identifier.
func (s *Source) Name() string { return SourceName }

// FetchQuotes pages through open events, or reloads the catalog's events by
// id when scope.Kind is ScopeCatalog.
func (s *Source) FetchQuotes(ctx context.Context, scope domain.SyncScope) ([]domain.NormalizedQuote, error) {
	if scope.Kind == domain.ScopeCatalog {
		return s.fetchEvents(ctx, scope.SeriesIDs)
	}

	closed := false
	var quotes []domain.NormalizedQuote
	for page := 0; page < s.opts.MaxPages; page++ {
		events, err := s.gamma.GetEvents(ctx, GetEventsOptions{
			Limit:  s.opts.PageLimit,
			Offset: page * s.opts.PageLimit,
			Closed: &closed,
		})
		if err != nil {
			return nil, err
		}
		for i := range events {
			quotes = append(quotes, normalizeEvent(&events[i])...)
		}
		if len(events) < s.opts.PageLimit {
			break
		}
	}
	return quotes, nil
}

func (s *Source) fetchEvents(ctx context.Context, ids []string) ([]domain.NormalizedQuote, error) {
	var quotes []domain.NormalizedQuote
	for _, id := range ids {
		ev, err := s.gamma.GetEvent(ctx, id)
		if err != nil {
			if isNotFound(err) {
				s.logger.WarnContext(ctx, "polymarket: catalog event not found upstream", slog.String("event", id))
				continue
			}
			return nil, err
		}
		quotes = append(quotes, normalizeEvent(&ev)...)
	}
	return quotes, nil
}

var (
	eventURLPattern = regexp.MustCompile(`(?i)polymarket\.com/event/([a-z0-9-]+)`)
	eventIDPattern  = regexp.MustCompile(`^[0-9]+$`)
	slugPattern     = regexp.MustCompile(`(?i)^[a-z0-9-]+$`)
)

// Reference identifies a Gamma event either by numeric id or by slug.
type Reference struct {
	ID   string
	Slug string
}

// ParseReference accepts a polymarket.com/event/<slug> URL, a numeric event
// id or a bare slug.
func ParseReference(urlOrID string) (Reference, error) {
	ref := strings.TrimSpace(urlOrID)
	if m := eventURLPattern.FindStringSubmatch(ref); m != nil {
		return Reference{Slug: strings.ToLower(m[1])}, nil
	}
	if eventIDPattern.MatchString(ref) {
		return Reference{ID: ref}, nil
	}
	if slugPattern.MatchString(ref) {
		return Reference{Slug: strings.ToLower(ref)}, nil
	}
	return Reference{}, fmt.Errorf("polymarket: unrecognized event reference %q: %w", urlOrID, domain.ErrMalformedQuote)
}

// Preview resolves a URL, id or slug to the event's outcomes.
func (s *Source) Preview(ctx context.Context, urlOrID string) (domain.Preview, []domain.NormalizedQuote, error) {
	ref, err := ParseReference(urlOrID)
	if err != nil {
		return domain.Preview{}, nil, err
	}

	var ev APIEvent
	if ref.ID != "" {
		ev, err = s.gamma.GetEvent(ctx, ref.ID)
	} else {
		ev, err = s.gamma.GetEventBySlug(ctx, ref.Slug)
	}
	if err != nil {
		return domain.Preview{}, nil, err
	}
	if len(ev.Markets) == 0 {
		return domain.Preview{}, nil, fmt.Errorf("polymarket: event %s has no markets: %w", ev.ID, domain.ErrNotFound)
	}

	quotes := normalizeEvent(&ev)
	p := domain.Preview{
		Source:       SourceName,
		SeriesTicker: ev.ID,
		Title:        ev.Title,
		Category:     ev.category(),
	}
	for _, q := range quotes {
		p.Markets = append(p.Markets, domain.PreviewOutcome{
			Ticker:   q.OptionID,
			Title:    q.Title,
			Subtitle: q.Subtitle,
			YesPrice: q.YesPrice,
			NoPrice:  domain.Complement(q.YesPrice),
			Status:   q.Status,
		})
	}
	return p, quotes, nil
}

func normalizeEvent(ev *APIEvent) []domain.NormalizedQuote {
	quotes := make([]domain.NormalizedQuote, 0, len(ev.Markets))
	for i := range ev.Markets {
		m := &ev.Markets[i]
		price, estimated := yesPrice(m)
		quotes = append(quotes, domain.NormalizedQuote{
			Source:      SourceName,
			SeriesID:    ev.ID,
			SeriesTitle: ev.Title,
			OptionID:    m.ID,
			Title:       ev.Title,
			Subtitle:    optionTitle(m),
			Category:    ev.category(),
			YesPrice:    price,
			Estimated:   estimated,
			Status:      m.status(),
		})
	}
	return quotes
}

func optionTitle(m *APIMarket) string {
	switch {
	case m.GroupItemTitle != "":
		return m.GroupItemTitle
	case m.Question != "":
		return m.Question
	default:
		return m.ID
	}
}

// yesPrice reads the first outcome price, then the last trade, then the
// bid/ask midpoint. Gamma prices are fractions of a dollar.
func yesPrice(m *APIMarket) (float64, bool) {
	if prices := decodeStringList(m.OutcomePrices); len(prices) > 0 {
		if p, err := strconv.ParseFloat(prices[0], 64); err == nil {
			return domain.RoundProbability(p * 100), false
		}
	}
	if m.LastTradePrice > 0 {
		return domain.RoundProbability(float64(m.LastTradePrice) * 100), false
	}
	if m.BestBid > 0 && m.BestAsk > 0 {
		return domain.RoundProbability(float64(m.BestBid+m.BestAsk) * 50), false
	}
	return domain.NeutralPrice, true
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

var (
	_ domain.QuoteSource = (*Source)(nil)
	_ domain.Previewer   = (*Source)(nil)
)
