package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/predictsim/internal/cache/local"
	"github.com/alanyoungcy/predictsim/internal/domain"
	"github.com/alanyoungcy/predictsim/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves canned quotes and records the last scope it was asked for.
type fakeSource struct {
	mu        sync.Mutex
	name      string
	quotes    []domain.NormalizedQuote
	err       error
	lastScope domain.SyncScope
	preview   domain.Preview
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchQuotes(_ context.Context, scope domain.SyncScope) ([]domain.NormalizedQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastScope = scope
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.NormalizedQuote, len(f.quotes))
	copy(out, f.quotes)
	return out, nil
}

func (f *fakeSource) Preview(_ context.Context, _ string) (domain.Preview, []domain.NormalizedQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preview, f.quotes, f.err
}

func (f *fakeSource) set(quotes ...domain.NormalizedQuote) {
	f.mu.Lock()
	f.quotes = quotes
	f.mu.Unlock()
}

// failingHistory rejects every append.
type failingHistory struct {
	*memory.HistoryStore
}

func (failingHistory) Append(context.Context, []domain.ProbabilityRecord) error {
	return errors.New("history unavailable")
}

// failingCatalog rejects writes for one market or option external id.
type failingCatalog struct {
	*memory.CatalogStore
	market string
	option string
}

func (c failingCatalog) UpsertMarket(ctx context.Context, u domain.MarketUpsert) (domain.Market, error) {
	if u.ExternalID == c.market {
		return domain.Market{}, errors.New("constraint violation")
	}
	return c.CatalogStore.UpsertMarket(ctx, u)
}

func (c failingCatalog) UpsertOption(ctx context.Context, u domain.OptionUpsert) (domain.OptionWrite, error) {
	if u.ExternalID == c.option {
		return domain.OptionWrite{}, errors.New("constraint violation")
	}
	return c.CatalogStore.UpsertOption(ctx, u)
}

// recordingNotifier captures notified event types.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
	return nil
}

type fixture struct {
	source   *fakeSource
	catalog  *memory.CatalogStore
	history  *memory.HistoryStore
	ledger   *memory.LedgerStore
	audit    *memory.AuditStore
	bus      *local.SignalBus
	locks    *local.LockManager
	notifier *recordingNotifier
	sync     *SyncService
}

// helper is the part of *testing.T and *rapid.T the fixture needs.
type helper interface {
	Helper()
	Fatalf(format string, args ...any)
}

func newFixture(t helper) *fixture {
	t.Helper()
	f := &fixture{
		source:   &fakeSource{name: "kalshi"},
		catalog:  memory.NewCatalogStore(),
		history:  memory.NewHistoryStore(),
		audit:    memory.NewAuditStore(),
		bus:      local.NewSignalBus(),
		locks:    local.NewLockManager(),
		notifier: &recordingNotifier{},
	}
	f.ledger = memory.NewLedgerStore(f.catalog)
	f.sync = NewSyncService([]domain.QuoteSource{f.source}, f.catalog, f.history, nil,
		f.locks, f.bus, f.audit, f.notifier, time.Minute, discardLogger())
	return f
}

func (f *fixture) run(t *testing.T) domain.SyncResult {
	t.Helper()
	res, err := f.sync.Run(context.Background(), domain.SyncRequest{Source: "kalshi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func (f *fixture) options(t *testing.T, externalID string) []domain.MarketOption {
	t.Helper()
	ctx := context.Background()
	m, err := f.catalog.GetMarketByExternalID(ctx, externalID)
	if err != nil {
		t.Fatalf("GetMarketByExternalID(%s): %v", externalID, err)
	}
	opts, err := f.catalog.GetOptionsForMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetOptionsForMarket: %v", err)
	}
	return opts
}

func quote(series, option, subtitle string, price float64) domain.NormalizedQuote {
	return domain.NormalizedQuote{
		Source:      "kalshi",
		SeriesID:    series,
		SeriesTitle: "Title of " + series,
		OptionID:    option,
		Title:       "Title of " + series,
		Subtitle:    subtitle,
		Category:    "Politics",
		YesPrice:    price,
		Status:      "active",
	}
}
