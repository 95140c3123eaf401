package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexFloat(n)
	return nil
}

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	Active      flexBool    `json:"active"`
	Closed      flexBool    `json:"closed"`
	Tags        []APITag    `json:"tags"`
	Markets     []APIMarket `json:"markets"`
}

// APITag is a Gamma event tag.
type APITag struct {
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// category returns the explicit category or, failing that, the first tag.
func (e *APIEvent) category() string {
	if e.Category != "" {
		return e.Category
	}
	for _, t := range e.Tags {
		if t.Label != "" {
			return t.Label
		}
	}
	return ""
}

// APIMarket represents a market nested inside a Gamma event.
type APIMarket struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Slug           string    `json:"slug"`
	GroupItemTitle string    `json:"groupItemTitle"`
	Active         flexBool  `json:"active"`
	Closed         flexBool  `json:"closed"`
	Outcomes       string    `json:"outcomes"`      // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	OutcomePrices  string    `json:"outcomePrices"` // JSON-encoded: e.g. "[\"0.5\",\"0.5\"]"
	LastTradePrice flexFloat `json:"lastTradePrice"`
	BestBid        flexFloat `json:"bestBid"`
	BestAsk        flexFloat `json:"bestAsk"`
}

// status maps the Gamma flags onto a quote status.
func (m *APIMarket) status() string {
	switch {
	case bool(m.Closed):
		return "closed"
	case bool(m.Active):
		return "open"
	default:
		return "inactive"
	}
}

// decodeStringList parses Gamma's JSON-in-a-string arrays.
func decodeStringList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
