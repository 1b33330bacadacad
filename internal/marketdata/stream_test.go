package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/powertraderai/powertrader/pkg/models"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamDeliversQuotes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "btcusdt@bookTicker", r.URL.Query().Get("streams"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		msg := `{"stream":"btcusdt@bookTicker","data":{"s":"BTCUSDT","b":"44999.50","a":"45000.50"}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		// hold the connection until the client hangs up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := NewCache(nil, time.Minute, zaptest.NewLogger(t))
	s := NewStream(wsURL(srv), []string{"BTC-USD"}, cache, zaptest.NewLogger(t))

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Start(context.Background())
	defer s.Stop()

	select {
	case md := <-ch:
		assert.Equal(t, "BTC-USD", md.Symbol)
		assert.Equal(t, "binance", md.Exchange)
		assert.True(t, md.Bid.Equal(decimal.RequireFromString("44999.50")))
		assert.True(t, md.Ask.Equal(decimal.RequireFromString("45000.50")))
		assert.True(t, md.Price.Equal(decimal.NewFromInt(45000)), "mid price = %s", md.Price)
	case <-time.After(3 * time.Second):
		t.Fatal("no quote received")
	}

	// The quote is written to the cache before it is broadcast.
	got, ok := cache.Get(context.Background(), "binance", "BTC-USD")
	require.True(t, ok)
	assert.True(t, got.Price.Equal(decimal.NewFromInt(45000)))
}

func TestStreamReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan struct{}, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		select {
		case conns <- struct{}{}:
		default:
		}
		// drop the connection immediately, forcing a redial
		conn.Close()
	}))
	defer srv.Close()

	s := NewStream(wsURL(srv), []string{"ETH-USD"}, nil, zaptest.NewLogger(t))
	s.Start(context.Background())
	defer s.Stop()

	for i := 0; i < 2; i++ {
		select {
		case <-conns:
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d never arrived", i+1)
		}
	}
}

func TestSlowSubscriberDropsQuotes(t *testing.T) {
	s := NewStream("", []string{"BTC-USD"}, nil, zaptest.NewLogger(t))

	ch, cancel := s.Subscribe()
	defer cancel()

	md := models.MarketData{Symbol: "BTC-USD", Price: decimal.NewFromInt(45000)}
	for i := 0; i < 100; i++ {
		s.broadcast(md)
	}

	// A subscriber that never drains loses quotes instead of stalling the
	// reader: the channel holds at most its buffer.
	assert.Equal(t, 64, len(ch))
}
