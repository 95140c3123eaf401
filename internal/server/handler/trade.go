package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// TradeService executes simulated trades and reports portfolios.
type TradeService interface {
	EnsureProfile(ctx context.Context, userID string) (domain.UserProfile, error)
	ExecuteTrade(ctx context.Context, req domain.TradeRequest) (domain.Position, error)
	Portfolio(ctx context.Context, userID string, opts domain.ListOpts) (domain.Portfolio, error)
}

// TradeHandler serves trade and portfolio endpoints. Callers identify
// themselves with the X-User-ID header; a first request provisions the
// profile with the starting balance.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type tradeRequest struct {
	MarketID string `json:"market_id"`
	OptionID string `json:"option_id"`
	Quantity int64  `json:"quantity"`
}

// ExecuteTrade buys shares of an option at its current probability.
// POST /api/trades
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.profile(w, r)
	if !ok {
		return
	}

	var req tradeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.MarketID == "" || req.OptionID == "" {
		writeError(w, http.StatusBadRequest, "market_id and option_id are required")
		return
	}

	pos, err := h.trades.ExecuteTrade(r.Context(), domain.TradeRequest{
		UserID:   uid,
		MarketID: req.MarketID,
		OptionID: req.OptionID,
		Quantity: req.Quantity,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "execute trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPositionView(pos))
}

// Portfolio returns the caller's balance and positions, newest first.
// GET /api/portfolio?limit=50&offset=0
func (h *TradeHandler) Portfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := h.profile(w, r)
	if !ok {
		return
	}
	pf, err := h.trades.Portfolio(r.Context(), uid, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "portfolio", err)
		return
	}
	writeJSON(w, http.StatusOK, toPortfolioView(pf))
}

func (h *TradeHandler) profile(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := userID(r)
	if _, err := h.trades.EnsureProfile(r.Context(), uid); err != nil {
		writeServiceError(w, r, h.logger, "ensure profile", err)
		return "", false
	}
	return uid, true
}
