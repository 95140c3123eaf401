package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// seedOption creates a binary market whose Yes option has probability p and
// returns the market and Yes option ids.
func (f *fixture) seedOption(t helper, series string, p float64) (string, string) {
	t.Helper()
	ctx := context.Background()
	m, err := f.catalog.UpsertMarket(ctx, domain.MarketUpsert{ExternalID: series, Source: "kalshi", Title: series, Status: domain.MarketStatusActive})
	if err != nil {
		t.Fatalf("UpsertMarket: %v", err)
	}
	w, err := f.catalog.UpsertOption(ctx, domain.OptionUpsert{MarketID: m.ID, Title: domain.OptionYes, ExternalID: series + "-Yes", Probability: p})
	if err != nil {
		t.Fatalf("UpsertOption: %v", err)
	}
	return m.ID, w.Option.ID
}

func newTradeService(f *fixture, balance string) *TradeService {
	svc := NewTradeService(f.ledger, f.bus, f.audit, TradeOptions{
		MaxQuantity:     10_000,
		StartingBalance: decimal.RequireFromString(balance),
		MaxRetries:      3,
		RetryBackoff:    time.Millisecond,
	}, discardLogger())
	return svc
}

func TestExecuteTradeInvalidQuantity(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f, "100")
	marketID, optionID := f.seedOption(t, "A", 60)

	for _, qty := range []int64{0, -5, 10_001} {
		_, err := svc.ExecuteTrade(context.Background(), domain.TradeRequest{UserID: "u1", MarketID: marketID, OptionID: optionID, Quantity: qty})
		if !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Errorf("quantity %d: err = %v, want ErrInvalidQuantity", qty, err)
		}
	}
}

func TestExecuteTrade(t *testing.T) {
	tests := []struct {
		name        string
		quantity    int64
		wantErr     error
		wantBalance string
	}{
		{"fits balance", 100, nil, "40"},
		{"exact balance", 166, nil, "0.4"},
		{"insufficient", 200, domain.ErrInsufficientBalance, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			svc := newTradeService(f, "100")
			marketID, optionID := f.seedOption(t, "A", 60)
			ctx := context.Background()
			if _, err := svc.EnsureProfile(ctx, "u1"); err != nil {
				t.Fatalf("EnsureProfile: %v", err)
			}

			pos, err := svc.ExecuteTrade(ctx, domain.TradeRequest{UserID: "u1", MarketID: marketID, OptionID: optionID, Quantity: tt.quantity})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if err == nil {
				if !pos.PricePerShare.Equal(decimal.RequireFromString("0.6")) {
					t.Errorf("PricePerShare = %s, want 0.6", pos.PricePerShare)
				}
				if pos.Outcome != domain.OptionYes {
					t.Errorf("Outcome = %q, want Yes", pos.Outcome)
				}
			}

			p, _ := f.ledger.GetProfile(ctx, "u1")
			if !p.Balance.Equal(decimal.RequireFromString(tt.wantBalance)) {
				t.Errorf("Balance = %s, want %s", p.Balance, tt.wantBalance)
			}
		})
	}
}

func TestExecuteTradeOptionNotInMarket(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f, "100")
	marketA, _ := f.seedOption(t, "A", 60)
	_, optionB := f.seedOption(t, "B", 40)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "u1")

	_, err := svc.ExecuteTrade(ctx, domain.TradeRequest{UserID: "u1", MarketID: marketA, OptionID: optionB, Quantity: 1})
	if !errors.Is(err, domain.ErrOptionNotInMarket) || !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrOptionNotInMarket wrapping ErrNotFound", err)
	}
}

func TestExecuteTradeMissingProfile(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f, "100")
	marketID, optionID := f.seedOption(t, "A", 60)

	_, err := svc.ExecuteTrade(context.Background(), domain.TradeRequest{UserID: "ghost", MarketID: marketID, OptionID: optionID, Quantity: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentTradesNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f, "100")
	marketID, optionID := f.seedOption(t, "A", 60)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "u1")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ExecuteTrade(ctx, domain.TradeRequest{UserID: "u1", MarketID: marketID, OptionID: optionID, Quantity: 100})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientBalance):
			insufficient++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Errorf("ok = %d, insufficient = %d; want 1 and 1", ok, insufficient)
	}

	p, _ := f.ledger.GetProfile(ctx, "u1")
	if !p.Balance.Equal(decimal.NewFromInt(40)) {
		t.Errorf("Balance = %s, want 40", p.Balance)
	}
	positions, _ := f.ledger.ListPositions(ctx, "u1", domain.ListOpts{})
	if len(positions) != 1 {
		t.Errorf("positions = %d, want 1", len(positions))
	}
}

// conflictLedger loses every race.
type conflictLedger struct {
	domain.LedgerStore
	calls int
}

func (c *conflictLedger) ExecuteTrade(context.Context, domain.TradeRequest) (domain.Position, error) {
	c.calls++
	return domain.Position{}, domain.ErrConcurrentUpdate
}

func TestExecuteTradeRetriesThenSurfacesConflict(t *testing.T) {
	f := newFixture(t)
	ledger := &conflictLedger{LedgerStore: f.ledger}
	svc := NewTradeService(ledger, f.bus, f.audit, TradeOptions{MaxRetries: 3}, discardLogger())
	var slept []time.Duration
	svc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	svc.opts.RetryBackoff = 10 * time.Millisecond

	_, err := svc.ExecuteTrade(context.Background(), domain.TradeRequest{UserID: "u1", MarketID: "m", OptionID: "o", Quantity: 1})
	if !errors.Is(err, domain.ErrConcurrentUpdate) {
		t.Fatalf("err = %v, want ErrConcurrentUpdate", err)
	}
	if ledger.calls != 4 {
		t.Errorf("calls = %d, want 4", ledger.calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if len(slept) != len(want) {
		t.Fatalf("slept = %v, want %v", slept, want)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("slept[%d] = %v, want %v", i, slept[i], want[i])
		}
	}
}

func TestPortfolio(t *testing.T) {
	f := newFixture(t)
	svc := newTradeService(f, "1000")
	marketID, optionID := f.seedOption(t, "A", 25)
	ctx := context.Background()
	svc.EnsureProfile(ctx, "u1")

	for _, qty := range []int64{10, 20, 30} {
		if _, err := svc.ExecuteTrade(ctx, domain.TradeRequest{UserID: "u1", MarketID: marketID, OptionID: optionID, Quantity: qty}); err != nil {
			t.Fatalf("ExecuteTrade(%d): %v", qty, err)
		}
	}

	pf, err := svc.Portfolio(ctx, "u1", domain.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("Portfolio: %v", err)
	}
	if !pf.TotalInvested.Equal(decimal.NewFromInt(15)) {
		t.Errorf("TotalInvested = %s, want 15", pf.TotalInvested)
	}
	if !pf.Balance.Equal(decimal.NewFromInt(985)) {
		t.Errorf("Balance = %s, want 985", pf.Balance)
	}
	if len(pf.Positions) != 2 || pf.Positions[0].Quantity != 30 {
		t.Errorf("positions = %+v, want newest two", pf.Positions)
	}
}

func TestBalanceNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := newFixture(t)
		start := decimal.NewFromInt(rapid.Int64Range(0, 500).Draw(t, "balance"))
		svc := NewTradeService(f.ledger, f.bus, f.audit, TradeOptions{StartingBalance: start, MaxRetries: 3}, discardLogger())
		ctx := context.Background()
		svc.EnsureProfile(ctx, "u1")

		n := rapid.IntRange(1, 20).Draw(t, "trades")
		for i := 0; i < n; i++ {
			p := rapid.Float64Range(0, 100).Draw(t, "probability")
			qty := rapid.Int64Range(1, 400).Draw(t, "quantity")
			marketID, optionID := f.seedOption(t, rapid.StringMatching(`[A-Z]{6}`).Draw(t, "series"), p)
			_, err := svc.ExecuteTrade(ctx, domain.TradeRequest{UserID: "u1", MarketID: marketID, OptionID: optionID, Quantity: qty})
			if err != nil && !errors.Is(err, domain.ErrInsufficientBalance) {
				t.Fatalf("ExecuteTrade: %v", err)
			}
		}

		pf, err := svc.Portfolio(ctx, "u1", domain.ListOpts{})
		if err != nil {
			t.Fatalf("Portfolio: %v", err)
		}
		if pf.Balance.IsNegative() {
			t.Fatalf("balance went negative: %s", pf.Balance)
		}
		if !pf.Balance.Add(pf.TotalInvested).Equal(start) {
			t.Fatalf("balance %s + invested %s != start %s", pf.Balance, pf.TotalInvested, start)
		}
	})
}
