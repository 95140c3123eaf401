package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictsim/internal/cache/local"
	"github.com/alanyoungcy/predictsim/internal/domain"
	"github.com/alanyoungcy/predictsim/internal/server/handler"
	"github.com/alanyoungcy/predictsim/internal/service"
	"github.com/alanyoungcy/predictsim/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSource struct {
	mu     sync.Mutex
	quotes []domain.NormalizedQuote
	err    error
}

func (s *stubSource) Name() string { return "kalshi" }

func (s *stubSource) FetchQuotes(context.Context, domain.SyncScope) ([]domain.NormalizedQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotes, s.err
}

func (s *stubSource) Preview(_ context.Context, ref string) (domain.Preview, []domain.NormalizedQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref != "KXRAIN" {
		return domain.Preview{}, nil, domain.ErrNotFound
	}
	return domain.Preview{Source: "kalshi", SeriesTicker: "KXRAIN", Title: "Rain"}, s.quotes, s.err
}

type testEnv struct {
	source *stubSource
	srv    *httptest.Server
}

func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	logger := discardLogger()
	src := &stubSource{quotes: []domain.NormalizedQuote{{
		Source:      "kalshi",
		SeriesID:    "KXRAIN",
		SeriesTitle: "Rain in NYC?",
		OptionID:    "KXRAIN",
		Title:       "Rain in NYC?",
		Category:    "Climate and Weather",
		YesPrice:    60,
		Status:      "active",
	}}}

	catalog := memory.NewCatalogStore()
	history := memory.NewHistoryStore()
	audit := memory.NewAuditStore()
	ledger := memory.NewLedgerStore(catalog)
	bus := local.NewSignalBus()

	syncSvc := service.NewSyncService([]domain.QuoteSource{src}, catalog, history, nil,
		local.NewLockManager(), bus, audit, nil, time.Minute, logger)
	tradeSvc := service.NewTradeService(ledger, bus, audit, service.TradeOptions{
		MaxQuantity:     1000,
		StartingBalance: decimal.NewFromInt(100),
		MaxRetries:      2,
	}, logger)

	s := NewServer(Config{APIKey: apiKey}, Handlers{
		Health:  handler.NewHealthHandler(nil, logger),
		Markets: handler.NewMarketHandler(service.NewMarketService(catalog, nil, logger), service.NewHistoryService(catalog, history), logger),
		Sync:    handler.NewSyncHandler(syncSvc, nil, logger),
		Trades:  handler.NewTradeHandler(tradeSvc, logger),
	}, nil, local.NewRateLimiter(), logger)

	env := &testEnv{source: src, srv: httptest.NewServer(s.Handler())}
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rdr)
	if user != "" {
		req.Header.Set(handler.UserIDHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// syncAndFirstMarket runs a sync and returns the only market with its option ids.
func (e *testEnv) syncAndFirstMarket(t *testing.T) (string, []string) {
	t.Helper()
	if code, body := e.do(t, http.MethodPost, "/api/sync", "", nil); code != http.StatusOK {
		t.Fatalf("sync status = %d, body %v", code, body)
	}
	code, body := e.do(t, http.MethodGet, "/api/markets", "", nil)
	if code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	markets := body["markets"].([]any)
	if len(markets) != 1 {
		t.Fatalf("markets = %d, want 1", len(markets))
	}
	m := markets[0].(map[string]any)
	var ids []string
	for _, o := range m["options"].([]any) {
		ids = append(ids, o.(map[string]any)["id"].(string))
	}
	return m["id"].(string), ids
}

func TestSyncEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	code, body := env.do(t, http.MethodPost, "/api/sync?source=kalshi", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	if body["markets_synced"] != float64(1) || body["history_records"] != float64(2) || body["series_skipped"] != float64(0) {
		t.Errorf("body = %v", body)
	}

	code, _ = env.do(t, http.MethodPost, "/api/sync?scope=everything", "", nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad scope status = %d, want 400", code)
	}
	code, _ = env.do(t, http.MethodPost, "/api/sync?source=nowhere", "", nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown source status = %d, want 404", code)
	}
}

func TestSyncEndpointSourceFailure(t *testing.T) {
	env := newTestEnv(t, "")
	env.source.err = errors.New("connection refused")

	code, body := env.do(t, http.MethodPost, "/api/sync", "", nil)
	if code != http.StatusBadGateway || body["error"] != "sync failed" {
		t.Errorf("status = %d, body %v; want 502 sync failed", code, body)
	}
}

func TestSyncLogEndpoint(t *testing.T) {
	env := newTestEnv(t, "")
	env.do(t, http.MethodPost, "/api/sync", "", nil)
	env.source.err = errors.New("connection refused")
	env.do(t, http.MethodPost, "/api/sync", "", nil)

	code, body := env.do(t, http.MethodGet, "/api/sync/log", "", nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, body)
	}
	entries := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	first := entries[0].(map[string]any)["event"].(map[string]any)
	if first["type"] != domain.EventSyncCompleted {
		t.Errorf("first event = %v", first)
	}
	next := body["next"].(string)

	code, body = env.do(t, http.MethodGet, "/api/sync/log?after="+next, "", nil)
	if code != http.StatusOK || len(body["entries"].([]any)) != 0 || body["next"] != next {
		t.Errorf("after last cursor: status %d, body %v", code, body)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/sync/log?limit=-1", "", nil); code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", code)
	}
}

func TestMarketEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	id, _ := env.syncAndFirstMarket(t)

	code, body := env.do(t, http.MethodGet, "/api/markets/"+id, "", nil)
	if code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if body["category"] != "Climate" || body["icon"] != "🌡️" || body["binary"] != true {
		t.Errorf("market = %v", body)
	}
	opts := body["options"].([]any)
	if first := opts[0].(map[string]any); first["title"] != "Yes" || first["probability"] != float64(60) {
		t.Errorf("first option = %v", first)
	}

	code, body = env.do(t, http.MethodGet, "/api/markets/"+id+"/history", "", nil)
	if code != http.StatusOK {
		t.Fatalf("history status = %d", code)
	}
	points := body["points"].([]any)
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	values := points[0].(map[string]any)["values"].(map[string]any)
	if values["Yes"] != float64(60) || values["No"] != float64(40) {
		t.Errorf("values = %v", values)
	}

	if code, _ := env.do(t, http.MethodGet, "/api/markets/"+id+"/history?since=yesterday", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", code)
	}
	if code, _ := env.do(t, http.MethodGet, "/api/markets/missing", "", nil); code != http.StatusNotFound {
		t.Errorf("missing market status = %d, want 404", code)
	}
}

func TestTradeEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	marketID, optionIDs := env.syncAndFirstMarket(t)
	yes := optionIDs[0]

	tests := []struct {
		name string
		user string
		body map[string]any
		want int
	}{
		{"missing user", "", map[string]any{"market_id": marketID, "option_id": yes, "quantity": 1}, http.StatusUnauthorized},
		{"zero quantity", "u1", map[string]any{"market_id": marketID, "option_id": yes, "quantity": 0}, http.StatusBadRequest},
		{"unknown option", "u1", map[string]any{"market_id": marketID, "option_id": "nope", "quantity": 1}, http.StatusNotFound},
		{"option of other market", "u1", map[string]any{"market_id": "other", "option_id": yes, "quantity": 1}, http.StatusBadRequest},
		{"missing ids", "u1", map[string]any{"quantity": 1}, http.StatusBadRequest},
		{"ok", "u1", map[string]any{"market_id": marketID, "option_id": yes, "quantity": 100}, http.StatusCreated},
		{"insufficient", "u1", map[string]any{"market_id": marketID, "option_id": yes, "quantity": 100}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, http.MethodPost, "/api/trades", tt.user, tt.body)
			if code != tt.want {
				t.Errorf("status = %d, want %d (body %v)", code, tt.want, body)
			}
		})
	}

	code, body := env.do(t, http.MethodGet, "/api/portfolio", "u1", nil)
	if code != http.StatusOK {
		t.Fatalf("portfolio status = %d", code)
	}
	if body["balance"] != "40.00" || body["total_invested"] != "60.00" {
		t.Errorf("portfolio = %v", body)
	}
	positions := body["positions"].([]any)
	if len(positions) != 1 || positions[0].(map[string]any)["price_per_share"] != "0.6000" {
		t.Errorf("positions = %v", positions)
	}
}

func TestPreviewAndAdd(t *testing.T) {
	env := newTestEnv(t, "")

	code, body := env.do(t, http.MethodPost, "/api/markets/preview", "", map[string]any{"url": "https://kalshi.com/markets/kxrain"})
	if code != http.StatusNotFound {
		t.Errorf("preview of unknown ref status = %d, body %v", code, body)
	}

	code, body = env.do(t, http.MethodPost, "/api/markets/preview", "", map[string]any{"external_id": "KXRAIN"})
	if code != http.StatusOK || body["series_ticker"] != "KXRAIN" {
		t.Errorf("preview status = %d, body %v", code, body)
	}

	code, body = env.do(t, http.MethodPost, "/api/markets/add", "", map[string]any{"external_id": "KXRAIN"})
	if code != http.StatusCreated || body["markets_synced"] != float64(1) {
		t.Errorf("add status = %d, body %v", code, body)
	}

	if code, _ := env.do(t, http.MethodPost, "/api/markets/add", "", map[string]any{}); code != http.StatusBadRequest {
		t.Errorf("empty add status = %d, want 400", code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, "secret")
	if code, _ := env.do(t, http.MethodGet, "/api/markets", "", nil); code != http.StatusUnauthorized {
		t.Errorf("markets status = %d, want 401", code)
	}
	if code, body := env.do(t, http.MethodGet, "/api/health", "", nil); code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health status = %d, body %v", code, body)
	}
}
