package kalshi

// MarketsResponse is the body of GET /markets.
type MarketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// SingleMarketResponse is the body of GET /markets/{ticker}.
type SingleMarketResponse struct {
	Market Market `json:"market"`
}

// Market is a market as returned by the Kalshi REST API. Integer prices are
// in cents; the *_dollars strings carry the same prices with sub-penny
// precision and are preferred when the cent field is zero.
type Market struct {
	Ticker        string `json:"ticker"`
	EventTicker   string `json:"event_ticker"`
	SeriesTicker  string `json:"series_ticker"`
	Title         string `json:"title"`
	Subtitle      string `json:"subtitle"`
	YesSubTitle   string `json:"yes_sub_title"`
	Status        string `json:"status"`
	Category      string `json:"category"`
	Result        string `json:"result"`
	YesBid        int    `json:"yes_bid"`
	YesAsk        int    `json:"yes_ask"`
	LastPrice     int    `json:"last_price"`
	PreviousPrice int    `json:"previous_price"`

	YesBidDollars        string `json:"yes_bid_dollars"`
	YesAskDollars        string `json:"yes_ask_dollars"`
	LastPriceDollars     string `json:"last_price_dollars"`
	PreviousPriceDollars string `json:"previous_price_dollars"`

	Volume    int64  `json:"volume"`
	CloseTime string `json:"close_time"`
}

// GetMarketsOptions are the query parameters of GET /markets.
type GetMarketsOptions struct {
	Limit        int
	Cursor       string
	Status       string
	EventTicker  string
	SeriesTicker string
	Tickers      []string
}

// ErrorResponse is a Kalshi API error body.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorResponse) text() string {
	if e.Error.Message != "" {
		return e.Error.Message + " (" + e.Error.Code + ")"
	}
	if e.Message != "" {
		return e.Message + " (" + e.Code + ")"
	}
	return ""
}
