package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/predictsim/internal/classify"
	"github.com/alanyoungcy/predictsim/internal/domain"
)

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// defaultLockTTL bounds how long a crashed pass can hold its source lock.
const defaultLockTTL = 2 * time.Minute

// SyncService reconciles upstream quotes into the local catalog and
// probability history.
type SyncService struct {
	sources  map[string]domain.QuoteSource
	order    []string
	catalog  domain.CatalogStore
	history  domain.HistoryStore
	cache    domain.MarketCache
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	lockTTL  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSyncService creates a SyncService with all required dependencies. cache
// and notifier may be nil.
func NewSyncService(
	sources []domain.QuoteSource,
	catalog domain.CatalogStore,
	history domain.HistoryStore,
	cache domain.MarketCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *SyncService {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	bySource := make(map[string]domain.QuoteSource, len(sources))
	order := make([]string, 0, len(sources))
	for _, src := range sources {
		if _, dup := bySource[src.Name()]; !dup {
			order = append(order, src.Name())
		}
		bySource[src.Name()] = src
	}
	return &SyncService{
		sources:  bySource,
		order:    order,
		catalog:  catalog,
		history:  history,
		cache:    cache,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		lockTTL:  lockTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Sources returns the names of the registered quote sources in registration
// order.
func (s *SyncService) Sources() []string {
	return append([]string(nil), s.order...)
}

// Run performs one reconciliation pass. A failed fetch aborts the pass before
// anything is written. A failed history append is reported in
// SyncResult.HistoryError and leaves the catalog writes in place.
func (s *SyncService) Run(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error) {
	src, err := s.source(req.Source)
	if err != nil {
		return domain.SyncResult{}, err
	}

	unlock, err := s.lock(ctx, src.Name())
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer unlock()

	scope := req.Scope
	if scope.Kind == "" {
		scope.Kind = domain.ScopeAllOpen
	}
	if scope.Kind == domain.ScopeCatalog && len(scope.SeriesIDs) == 0 {
		ids, err := s.catalog.ListExternalIDs(ctx, src.Name())
		if err != nil {
			return domain.SyncResult{}, fmt.Errorf("sync_service: list catalog series: %w", err)
		}
		if len(ids) == 0 {
			return domain.SyncResult{Source: src.Name()}, nil
		}
		scope.SeriesIDs = ids
	}

	start := time.Now()
	quotes, err := src.FetchQuotes(ctx, scope)
	if err != nil {
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		s.reportFailure(ctx, src.Name(), err)
		return domain.SyncResult{}, fmt.Errorf("sync_service: fetch %s: %w", src.Name(), err)
	}

	res, _, err := s.reconcile(ctx, src.Name(), quotes)
	if err != nil {
		s.reportFailure(ctx, src.Name(), err)
		return res, err
	}

	s.logger.InfoContext(ctx, "sync_service: pass complete",
		slog.String("source", src.Name()),
		slog.String("scope", string(scope.Kind)),
		slog.Int("quotes", len(quotes)),
		slog.Int("markets", res.MarketsSynced),
		slog.Int("history_records", res.HistoryRecords),
		slog.Int("skipped", res.SeriesSkipped),
		slog.Duration("elapsed", time.Since(start)),
	)
	s.reportSuccess(ctx, res)
	return res, nil
}

// Preview resolves a URL or external id against a source without writing.
func (s *SyncService) Preview(ctx context.Context, source, urlOrID string) (domain.Preview, error) {
	p, _, err := s.preview(ctx, source, urlOrID)
	return p, err
}

// AddFromPreview onboards a single series by reconciling its preview quotes.
func (s *SyncService) AddFromPreview(ctx context.Context, source, urlOrID string) (domain.SyncResult, error) {
	_, quotes, err := s.preview(ctx, source, urlOrID)
	if err != nil {
		return domain.SyncResult{}, err
	}

	unlock, err := s.lock(ctx, source)
	if err != nil {
		return domain.SyncResult{}, err
	}
	defer unlock()

	res, writeErr, err := s.reconcile(ctx, source, quotes)
	if err != nil {
		return res, err
	}
	if res.MarketsSynced == 0 {
		if writeErr != nil {
			return res, fmt.Errorf("sync_service: add %s: %w", urlOrID, writeErr)
		}
		return res, fmt.Errorf("sync_service: add %s: %w", urlOrID, domain.ErrMalformedQuote)
	}

	s.logger.InfoContext(ctx, "sync_service: series added",
		slog.String("source", source),
		slog.String("ref", urlOrID),
		slog.Any("market_ids", res.MarketIDs),
	)
	s.reportSuccess(ctx, res)
	return res, nil
}

// Sync log page sizes.
const (
	DefaultSyncLogLimit = 50
	MaxSyncLogLimit     = 500
)

// SyncLog returns recorded pass outcomes oldest first, starting after the
// cursor after ("" reads from the beginning).
func (s *SyncService) SyncLog(ctx context.Context, after string, limit int) ([]domain.SyncLogEntry, error) {
	if after == "" {
		after = "0"
	}
	switch {
	case limit <= 0:
		limit = DefaultSyncLogLimit
	case limit > MaxSyncLogLimit:
		limit = MaxSyncLogLimit
	}

	msgs, err := s.bus.StreamRead(ctx, domain.StreamSync, after, limit)
	if err != nil {
		return nil, fmt.Errorf("sync_service: read sync log: %w", err)
	}
	entries := make([]domain.SyncLogEntry, 0, len(msgs))
	for _, m := range msgs {
		var evt domain.BusEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			s.logger.WarnContext(ctx, "sync_service: undecodable sync log entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, domain.SyncLogEntry{ID: m.ID, Event: evt})
	}
	return entries, nil
}

func (s *SyncService) preview(ctx context.Context, source, urlOrID string) (domain.Preview, []domain.NormalizedQuote, error) {
	src, err := s.source(source)
	if err != nil {
		return domain.Preview{}, nil, err
	}
	pv, ok := src.(domain.Previewer)
	if !ok {
		return domain.Preview{}, nil, fmt.Errorf("sync_service: source %s cannot preview: %w", source, domain.ErrNotFound)
	}
	p, quotes, err := pv.Preview(ctx, urlOrID)
	if err != nil {
		return domain.Preview{}, nil, fmt.Errorf("sync_service: preview %s: %w", urlOrID, err)
	}
	return p, quotes, nil
}

func (s *SyncService) source(name string) (domain.QuoteSource, error) {
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("sync_service: unknown source %q: %w", name, domain.ErrNotFound)
	}
	return src, nil
}

func (s *SyncService) lock(ctx context.Context, source string) (func(), error) {
	unlock, err := s.locks.Acquire(ctx, "sync:"+source, s.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("sync_service: %s: %w", source, domain.ErrSyncInProgress)
		}
		return nil, fmt.Errorf("sync_service: acquire lock: %w", err)
	}
	return unlock, nil
}

// seriesGroup is the quotes of one upstream series in first-seen order.
type seriesGroup struct {
	id     string
	quotes []domain.NormalizedQuote
}

func groupQuotes(quotes []domain.NormalizedQuote) []seriesGroup {
	index := make(map[string]int)
	var groups []seriesGroup
	for _, q := range quotes {
		i, ok := index[q.SeriesID]
		if !ok {
			i = len(groups)
			index[q.SeriesID] = i
			groups = append(groups, seriesGroup{id: q.SeriesID})
		}
		groups[i].quotes = append(groups[i].quotes, q)
	}
	return groups
}

// validateSeries rejects a series that cannot be mapped onto a market.
func validateSeries(g seriesGroup) error {
	if g.id == "" {
		return fmt.Errorf("empty series id: %w", domain.ErrMalformedQuote)
	}
	seen := make(map[string]bool, len(g.quotes))
	for _, q := range g.quotes {
		if q.OptionID == "" {
			return fmt.Errorf("series %s: empty option id: %w", g.id, domain.ErrMalformedQuote)
		}
		if seen[q.OptionID] {
			return fmt.Errorf("series %s: duplicate option %s: %w", g.id, q.OptionID, domain.ErrMalformedQuote)
		}
		seen[q.OptionID] = true
		if q.Title == "" && q.SeriesTitle == "" {
			return fmt.Errorf("series %s: option %s has no title: %w", g.id, q.OptionID, domain.ErrMalformedQuote)
		}
		if math.IsNaN(q.YesPrice) || q.YesPrice < 0 || q.YesPrice > 100 {
			return fmt.Errorf("series %s: option %s price %v out of range: %w", g.id, q.OptionID, q.YesPrice, domain.ErrMalformedQuote)
		}
	}
	return nil
}

// reconcile writes quotes into the catalog and appends the resulting history
// records in one batch. A series whose store writes fail is logged and
// skipped; options it committed before the failure still get their records.
// writeErr joins those store failures. err is non-nil only when ctx ends the
// pass early.
func (s *SyncService) reconcile(ctx context.Context, source string, quotes []domain.NormalizedQuote) (res domain.SyncResult, writeErr error, err error) {
	res = domain.SyncResult{Source: source}
	now := s.now()

	var (
		records   []domain.ProbabilityRecord
		touched   []string
		writeErrs []error
	)
	changed := make(map[string][]domain.MarketOption)
	for _, g := range groupQuotes(quotes) {
		if err := ctx.Err(); err != nil {
			s.flush(ctx, source, &res, records, touched, changed, now)
			return res, errors.Join(writeErrs...), fmt.Errorf("sync_service: %w", err)
		}
		if err := validateSeries(g); err != nil {
			res.SeriesSkipped++
			s.logger.WarnContext(ctx, "sync_service: series skipped",
				slog.String("source", source),
				slog.String("series", g.id),
				slog.String("error", err.Error()),
			)
			continue
		}

		market, writes, err := s.writeSeries(ctx, source, g)
		if market.ID != "" {
			touched = append(touched, market.ID)
		}
		for _, w := range writes {
			if !w.Recorded() {
				continue
			}
			records = append(records, domain.ProbabilityRecord{
				MarketID:    market.ID,
				OptionID:    w.Option.ID,
				Probability: w.Option.CurrentProbability,
				RecordedAt:  now,
			})
			changed[market.ID] = append(changed[market.ID], w.Option)
		}
		if err != nil {
			res.SeriesSkipped++
			writeErrs = append(writeErrs, fmt.Errorf("series %s: %w", g.id, err))
			s.logger.ErrorContext(ctx, "sync_service: series write failed",
				slog.String("source", source),
				slog.String("series", g.id),
				slog.Int("options_written", len(writes)),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.MarketsSynced++
		res.MarketIDs = append(res.MarketIDs, market.ID)
	}

	s.flush(ctx, source, &res, records, touched, changed, now)
	return res, errors.Join(writeErrs...), nil
}

// flush appends the pass's history batch, then invalidates and announces the
// touched markets.
func (s *SyncService) flush(
	ctx context.Context,
	source string,
	res *domain.SyncResult,
	records []domain.ProbabilityRecord,
	touched []string,
	changed map[string][]domain.MarketOption,
	now time.Time,
) {
	if len(records) > 0 {
		if err := s.history.Append(context.WithoutCancel(ctx), records); err != nil {
			res.HistoryError = fmt.Errorf("sync_service: append history: %w", err)
			s.logger.ErrorContext(ctx, "sync_service: history append failed",
				slog.String("source", source),
				slog.Int("records", len(records)),
				slog.String("error", err.Error()),
			)
		} else {
			res.HistoryRecords = len(records)
		}
	}

	s.invalidate(ctx, touched)
	for marketID, opts := range changed {
		s.publishProbabilities(ctx, marketID, opts, now)
	}
}

// writeSeries upserts the market for one series and its options. A single
// quote becomes a binary Yes/No market; several quotes become one option each.
func (s *SyncService) writeSeries(ctx context.Context, source string, g seriesGroup) (domain.Market, []domain.OptionWrite, error) {
	first := g.quotes[0]
	title := first.SeriesTitle
	if title == "" {
		title = first.Title
	}

	raw := first.Category
	if raw == "" {
		raw = title
	}
	category, icon := classify.Classify(raw)

	status := domain.MarketStatusClosed
	for _, q := range g.quotes {
		if !q.Closed() {
			status = domain.MarketStatusActive
			break
		}
	}

	binary, err := s.binaryShape(ctx, g)
	if err != nil {
		return domain.Market{}, nil, err
	}

	description := title
	if binary && first.Subtitle != "" && first.Subtitle != first.OptionID {
		description = first.Subtitle
	}

	market, err := s.catalog.UpsertMarket(ctx, domain.MarketUpsert{
		ExternalID:  g.id,
		Source:      source,
		Title:       title,
		Description: description,
		Category:    category,
		Icon:        icon,
		Status:      status,
	})
	if err != nil {
		return domain.Market{}, nil, fmt.Errorf("upsert market: %w", err)
	}

	var writes []domain.OptionWrite
	for _, u := range optionUpserts(market.ID, g.quotes, binary) {
		w, err := s.catalog.UpsertOption(ctx, u)
		if err != nil {
			return market, writes, fmt.Errorf("upsert option %s: %w", u.ExternalID, err)
		}
		writes = append(writes, w)
	}
	return market, writes, nil
}

// binaryShape reports whether a series is written as a Yes/No market. A
// single quote is binary unless the stored market already has outcome
// options, which happens when closed or paginated-out outcomes drop from a
// pass.
func (s *SyncService) binaryShape(ctx context.Context, g seriesGroup) (bool, error) {
	if len(g.quotes) != 1 {
		return false, nil
	}
	m, err := s.catalog.GetMarketByExternalID(ctx, g.id)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load market: %w", err)
	}
	stored, err := s.catalog.GetOptionsForMarket(ctx, m.ID)
	if err != nil {
		return false, fmt.Errorf("load options: %w", err)
	}
	return len(stored) == 0 || domain.IsBinary(stored), nil
}

// optionUpserts maps a series onto option writes. Estimated quotes only
// insert, so an existing option keeps its last known probability.
func optionUpserts(marketID string, quotes []domain.NormalizedQuote, binary bool) []domain.OptionUpsert {
	if binary {
		q := quotes[0]
		yes := domain.RoundProbability(q.YesPrice)
		return []domain.OptionUpsert{
			{MarketID: marketID, Title: domain.OptionYes, ExternalID: q.OptionID + "-Yes", Probability: yes, InsertOnly: q.Estimated},
			{MarketID: marketID, Title: domain.OptionNo, ExternalID: q.OptionID + "-No", Probability: domain.Complement(yes), InsertOnly: q.Estimated},
		}
	}

	titles := make(map[string]int, len(quotes))
	for _, q := range quotes {
		titles[optionTitle(q)]++
	}
	out := make([]domain.OptionUpsert, 0, len(quotes))
	for _, q := range quotes {
		title := optionTitle(q)
		if titles[title] > 1 {
			title = fmt.Sprintf("%s (%s)", title, q.OptionID)
		}
		out = append(out, domain.OptionUpsert{
			MarketID:    marketID,
			Title:       title,
			ExternalID:  q.OptionID,
			Probability: domain.RoundProbability(q.YesPrice),
			InsertOnly:  q.Estimated,
		})
	}
	return out
}

func optionTitle(q domain.NormalizedQuote) string {
	if q.Subtitle != "" {
		return q.Subtitle
	}
	return q.OptionID
}

func (s *SyncService) invalidate(ctx context.Context, ids []string) {
	if s.cache == nil || len(ids) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.WarnContext(ctx, "sync_service: cache invalidate failed",
			slog.Int("markets", len(ids)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SyncService) publishProbabilities(ctx context.Context, marketID string, opts []domain.MarketOption, at time.Time) {
	values := make(map[string]any, len(opts))
	for _, o := range opts {
		values[o.ID] = o.CurrentProbability
	}
	publish(ctx, s.bus, s.logger, domain.ChannelProbability, domain.BusEvent{
		Type:     domain.EventProbabilityUpdated,
		MarketID: marketID,
		Data:     map[string]any{"probabilities": values},
		At:       at,
	})
}

func (s *SyncService) reportSuccess(ctx context.Context, res domain.SyncResult) {
	evt := domain.BusEvent{
		Type: domain.EventSyncCompleted,
		Data: map[string]any{
			"source":          res.Source,
			"markets_synced":  res.MarketsSynced,
			"history_records": res.HistoryRecords,
			"series_skipped":  res.SeriesSkipped,
		},
		At: s.now(),
	}
	if res.HistoryError != nil {
		evt.Data["history_error"] = res.HistoryError.Error()
	}
	publish(ctx, s.bus, s.logger, domain.ChannelSync, evt)
	appendStream(ctx, s.bus, s.logger, domain.StreamSync, evt)

	if err := s.audit.Log(ctx, "sync.completed", evt.Data); err != nil {
		s.logger.WarnContext(ctx, "sync_service: audit log failed", slog.String("error", err.Error()))
	}
	s.notify(ctx, domain.EventSyncCompleted, "Sync completed",
		fmt.Sprintf("%s: %d markets, %d history records, %d skipped",
			res.Source, res.MarketsSynced, res.HistoryRecords, res.SeriesSkipped))
}

func (s *SyncService) reportFailure(ctx context.Context, source string, err error) {
	s.logger.ErrorContext(ctx, "sync_service: pass failed",
		slog.String("source", source),
		slog.String("error", err.Error()),
	)
	evt := domain.BusEvent{
		Type: domain.EventSyncFailed,
		Data: map[string]any{"source": source, "error": err.Error()},
		At:   s.now(),
	}
	publish(ctx, s.bus, s.logger, domain.ChannelSync, evt)
	appendStream(ctx, s.bus, s.logger, domain.StreamSync, evt)

	if auditErr := s.audit.Log(ctx, "sync.failed", evt.Data); auditErr != nil {
		s.logger.WarnContext(ctx, "sync_service: audit log failed", slog.String("error", auditErr.Error()))
	}
	s.notify(ctx, domain.EventSyncFailed, "Sync failed", fmt.Sprintf("%s: %v", source, err))
}

func (s *SyncService) notify(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "sync_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// publish sends evt on channel; failures are logged only.
func publish(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, channel string, evt domain.BusEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		logger.WarnContext(ctx, "service: marshal bus event failed", slog.String("error", err.Error()))
		return
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		logger.WarnContext(ctx, "service: publish event failed",
			slog.String("channel", channel),
			slog.String("type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

func appendStream(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, stream string, evt domain.BusEvent) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := bus.StreamAppend(ctx, stream, payload); err != nil {
		logger.WarnContext(ctx, "service: stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}
