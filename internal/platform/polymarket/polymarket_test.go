package polymarket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const electionEvent = `{
  "id": "903",
  "title": "Presidential Election Winner",
  "slug": "presidential-election-winner",
  "tags": [{"label": "Politics", "slug": "politics"}],
  "active": true,
  "closed": false,
  "markets": [
    {"id": "501", "question": "Will Alice win?", "groupItemTitle": "Alice", "active": true, "closed": false,
     "outcomes": "[\"Yes\",\"No\"]", "outcomePrices": "[\"0.615\",\"0.385\"]"},
    {"id": "502", "question": "Will Bob win?", "groupItemTitle": "Bob", "active": "true", "closed": false,
     "lastTradePrice": "0.3"},
    {"id": "503", "question": "Will Carol win?", "active": true, "closed": true}
  ]
}`

func TestFetchQuotesOffsetPaging(t *testing.T) {
	var offsets []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("closed") != "false" {
			t.Errorf("closed = %q, want false", q.Get("closed"))
		}
		offsets = append(offsets, q.Get("offset"))
		switch q.Get("offset") {
		case "":
			fmt.Fprintf(w, `[%s, {"id": "904", "title": "Rain in NYC?", "markets": [{"id": "601", "question": "Rain?", "active": true, "bestBid": 0.2, "bestAsk": 0.3}]}]`, electionEvent)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer server.Close()

	src := NewSource(NewGammaClient(server.URL), SourceOptions{PageLimit: 2}, testLogger())
	quotes, err := src.FetchQuotes(context.Background(), domain.SyncScope{Kind: domain.ScopeAllOpen})
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(offsets) != 2 || offsets[1] != strconv.Itoa(2) {
		t.Errorf("offsets = %v, want [\"\" 2]", offsets)
	}
	if len(quotes) != 4 {
		t.Fatalf("len(quotes) = %d, want 4", len(quotes))
	}

	tests := []struct {
		idx       int
		series    string
		subtitle  string
		price     float64
		estimated bool
		closed    bool
	}{
		{0, "903", "Alice", 61.5, false, false},
		{1, "903", "Bob", 30, false, false},
		{2, "903", "Will Carol win?", 50, true, true},
		{3, "904", "Rain?", 25, false, false},
	}
	for _, tt := range tests {
		q := quotes[tt.idx]
		if q.SeriesID != tt.series || q.Subtitle != tt.subtitle || q.YesPrice != tt.price ||
			q.Estimated != tt.estimated || q.Closed() != tt.closed {
			t.Errorf("quotes[%d] = %+v, want series %s subtitle %q price %v estimated %v closed %v",
				tt.idx, q, tt.series, tt.subtitle, tt.price, tt.estimated, tt.closed)
		}
	}
	if quotes[0].Category != "Politics" {
		t.Errorf("Category = %q, want Politics", quotes[0].Category)
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		in      string
		want    Reference
		wantErr bool
	}{
		{"https://polymarket.com/event/Presidential-Election-Winner?tid=1", Reference{Slug: "presidential-election-winner"}, false},
		{"903", Reference{ID: "903"}, false},
		{"fed-decision-in-march", Reference{Slug: "fed-decision-in-march"}, false},
		{"not a reference!", Reference{}, true},
	}
	for _, tt := range tests {
		got, err := ParseReference(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseReference(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseReference(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestPreviewBySlug(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" || r.URL.Query().Get("slug") != "presidential-election-winner" {
			t.Errorf("unexpected request %s", r.URL)
		}
		fmt.Fprintf(w, `[%s]`, electionEvent)
	}))
	defer server.Close()

	src := NewSource(NewGammaClient(server.URL), SourceOptions{}, testLogger())
	p, quotes, err := src.Preview(context.Background(), "https://polymarket.com/event/presidential-election-winner")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if p.SeriesTicker != "903" || p.Title != "Presidential Election Winner" || len(p.Markets) != 3 {
		t.Errorf("preview = %+v", p)
	}
	if p.Markets[0].NoPrice != 38.5 {
		t.Errorf("NoPrice = %v, want 38.5", p.Markets[0].NoPrice)
	}
	if len(quotes) != 3 {
		t.Errorf("len(quotes) = %d, want 3", len(quotes))
	}
}

func TestCatalogScopeSkipsMissingEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events/903":
			fmt.Fprint(w, electionEvent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	src := NewSource(NewGammaClient(server.URL), SourceOptions{}, testLogger())
	quotes, err := src.FetchQuotes(context.Background(), domain.SyncScope{
		Kind:      domain.ScopeCatalog,
		SeriesIDs: []string{"1", "903"},
	})
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if len(quotes) != 3 {
		t.Errorf("len(quotes) = %d, want 3", len(quotes))
	}
}

func TestServerErrorIsSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	src := NewSource(NewGammaClient(server.URL), SourceOptions{}, testLogger())
	_, err := src.FetchQuotes(context.Background(), domain.SyncScope{Kind: domain.ScopeAllOpen})
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Errorf("err = %v, want ErrSourceUnavailable", err)
	}
}
