package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powertraderai/powertrader/internal/credentials"
	"github.com/powertraderai/powertrader/internal/exchange"
	"github.com/powertraderai/powertrader/pkg/models"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	ex, err := New(exchange.Options{
		Credentials: credentials.Credentials{APIKey: "test-key", APISecret: "test-secret"},
		BaseURL:     baseURL,
	})
	require.NoError(t, err)
	c := ex.(*Client)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestGetTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		switch r.URL.Path {
		case "/api/v3/ticker/24hr":
			w.Write([]byte(`{"lastPrice":"45000.10","volume":"1234.5"}`))
		case "/api/v3/ticker/bookTicker":
			w.Write([]byte(`{"bidPrice":"44999.90","askPrice":"45000.30"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	md, err := newTestClient(t, srv.URL).GetTicker(context.Background(), "BTC-USD")
	require.NoError(t, err)
	assert.True(t, md.Price.Equal(decimal.RequireFromString("45000.10")))
	assert.True(t, md.Bid.Equal(decimal.RequireFromString("44999.90")))
	assert.True(t, md.Ask.Equal(decimal.RequireFromString("45000.30")))
	assert.True(t, md.Volume.Equal(decimal.RequireFromString("1234.5")))
}

func TestPlaceOrderSignsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-MBX-APIKEY"))

		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		assert.Equal(t, "1700000000000", q.Get("timestamp"))

		// The signature must cover the query minus the signature itself.
		raw := r.URL.RawQuery
		idx := len(raw) - len("&signature=") - len(q.Get("signature"))
		payload := raw[:idx]
		mac := hmac.New(sha256.New, []byte("test-secret"))
		mac.Write([]byte(payload))
		assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), q.Get("signature"))

		w.Write([]byte(`{"orderId":12345,"symbol":"BTCUSDT","status":"NEW"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol:   "BTC-USD",
		Side:     models.OrderSideBuy,
		Type:     models.OrderTypeLimit,
		Quantity: decimal.RequireFromString("0.1"),
		Price:    decimal.RequireFromString("44000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", res.OrderID)
	assert.Equal(t, models.OrderStatusOpen, res.Status)
}

func TestGetOrderStatusUsesRememberedSymbol(t *testing.T) {
	var statusCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.Write([]byte(`{"orderId":77,"symbol":"ETHUSDT","status":"NEW"}`))
		case http.MethodGet:
			statusCalls++
			assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
			assert.Equal(t, "77", r.URL.Query().Get("orderId"))
			w.Write([]byte(`{"orderId":77,"symbol":"ETHUSDT","status":"FILLED",
				"executedQty":"2","price":"3000","side":"BUY","type":"MARKET"}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	placed, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "ETH-USD", Side: models.OrderSideBuy,
		Type: models.OrderTypeMarket, Quantity: decimal.NewFromInt(2),
	})
	require.NoError(t, err)

	res, err := c.GetOrderStatus(context.Background(), placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, statusCalls)
	assert.Equal(t, models.OrderStatusFilled, res.Status)

	_, err = c.GetOrderStatus(context.Background(), "never-placed")
	assert.Error(t, err)
}

func TestGetBalancesSkipsZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		w.Write([]byte(`{"balances":[
			{"asset":"BTC","free":"0.5","locked":"0.1"},
			{"asset":"ETH","free":"0","locked":"0"},
			{"asset":"USDT","free":"100","locked":"0"}]}`))
	}))
	defer srv.Close()

	balances, err := newTestClient(t, srv.URL).GetBalances(context.Background())
	require.NoError(t, err)
	assert.True(t, balances["BTC"].Equal(decimal.RequireFromString("0.6")))
	assert.True(t, balances["USDT"].Equal(decimal.NewFromInt(100)))
	assert.NotContains(t, balances, "ETH")
}

func TestToVenueSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", toVenueSymbol("BTC-USD"))
	assert.Equal(t, "ETHBTC", toVenueSymbol("ETH-BTC"))
}

func TestMapStatus(t *testing.T) {
	assert.Equal(t, models.OrderStatusOpen, mapStatus("NEW"))
	assert.Equal(t, models.OrderStatusPartial, mapStatus("PARTIALLY_FILLED"))
	assert.Equal(t, models.OrderStatusFilled, mapStatus("FILLED"))
	assert.Equal(t, models.OrderStatusCancelled, mapStatus("CANCELED"))
	assert.Equal(t, models.OrderStatusCancelled, mapStatus("EXPIRED"))
	assert.Equal(t, models.OrderStatusRejected, mapStatus("REJECTED"))
	assert.Equal(t, models.OrderStatusPending, mapStatus("WHO_KNOWS"))
}
