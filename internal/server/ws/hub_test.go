package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predictsim/internal/cache/local"
	"github.com/alanyoungcy/predictsim/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readEvent(t *testing.T, conn *websocket.Conn) domain.BusEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var evt domain.BusEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return evt
}

func TestHubRelaysBusEvents(t *testing.T) {
	bus := local.NewSignalBus()
	hub := NewHub(bus, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if hello := readEvent(t, conn); hello.Type != "connected" {
		t.Fatalf("first message = %+v, want connected", hello)
	}

	payload, _ := json.Marshal(domain.BusEvent{Type: domain.EventProbabilityUpdated, MarketID: "m1", At: time.Now().UTC()})
	if err := bus.Publish(ctx, domain.ChannelProbability, payload); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	evt := readEvent(t, conn)
	if evt.Type != domain.EventProbabilityUpdated || evt.MarketID != "m1" {
		t.Errorf("event = %+v", evt)
	}
}

func TestClientFilters(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelProbability: true, domain.ChannelSync: true}, markets: map[string]bool{}}

	tests := []struct {
		name     string
		msg      *subscribeMsg
		channel  string
		marketID string
		want     bool
	}{
		{"default all markets", nil, domain.ChannelProbability, "m1", true},
		{"unsubscribed channel", nil, domain.ChannelTrades, "", false},
		{"market filter excludes", &subscribeMsg{Action: "subscribe", Markets: []string{"m2"}}, domain.ChannelProbability, "m1", false},
		{"market filter includes", nil, domain.ChannelProbability, "m2", true},
		{"marketless event passes", nil, domain.ChannelSync, "", true},
		{"unsubscribe channel", &subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelSync}}, domain.ChannelSync, "", false},
		{"unknown action ignored", &subscribeMsg{Action: "noop", Channels: []string{domain.ChannelTrades}}, domain.ChannelTrades, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg != nil {
				c.apply(*tt.msg)
			}
			if got := c.wants(tt.channel, tt.marketID); got != tt.want {
				t.Errorf("wants(%s, %q) = %v, want %v", tt.channel, tt.marketID, got, tt.want)
			}
		})
	}
}

func httpHandler(h *Hub) http.Handler {
	return http.HandlerFunc(h.HandleWS)
}
