package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// MarketService is the catalog read side the market handler needs.
type MarketService interface {
	GetMarket(ctx context.Context, id string) (domain.MarketWithOptions, error)
	ListMarkets(ctx context.Context, f domain.MarketFilter) ([]domain.MarketWithOptions, int64, error)
}

// HistoryService builds chart points for a market.
type HistoryService interface {
	Chart(ctx context.Context, marketID string, since *time.Time, limit int) ([]domain.ChartPoint, error)
}

// MarketHandler serves market and history endpoints.
type MarketHandler struct {
	markets MarketService
	history HistoryService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketService, history HistoryService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, history: history, logger: logger}
}

type listMarketsResponse struct {
	Markets []marketView `json:"markets"`
	Total   int64        `json:"total"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
}

// ListMarkets returns active markets with their options.
// GET /api/markets?category=&source=&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()
	filter := domain.MarketFilter{
		Status:   domain.MarketStatus(strings.ToLower(q.Get("status"))),
		Category: q.Get("category"),
		Source:   q.Get("source"),
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	}

	markets, total, err := h.markets.ListMarkets(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}

	resp := listMarketsResponse{
		Markets: make([]marketView, 0, len(markets)),
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for _, m := range markets {
		resp.Markets = append(resp.Markets, toMarketView(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMarket returns one market with its ordered options.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	m, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "get market", err)
		return
	}
	writeJSON(w, http.StatusOK, toMarketView(m))
}

type historyResponse struct {
	MarketID string              `json:"market_id"`
	Points   []domain.ChartPoint `json:"points"`
}

// History returns chart points for a market.
// GET /api/markets/{id}/history?since=RFC3339&limit=100
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	var since *time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = &t
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	points, err := h.history.Chart(r.Context(), id, since, limit)
	if err != nil {
		writeServiceError(w, r, h.logger, "market history", err)
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{MarketID: id, Points: points})
}
